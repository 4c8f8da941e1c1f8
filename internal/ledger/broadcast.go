package ledger

import (
	"context"
	"encoding/binary"
	"fmt"

	authtypes "github.com/cosmos/cosmos-sdk/x/auth/types"
	txtypes "github.com/cosmos/cosmos-sdk/types/tx"
	signingtypes "github.com/cosmos/cosmos-sdk/types/tx/signing"
	codectypes "github.com/cosmos/cosmos-sdk/codec/types"

	"github.com/CShear/regen-compute-credits/pkg/logger"
	"go.uber.org/zap"
)

// ecocreditMarketplaceBuyDirectTypeURL is the proto type URL of regen-ledger's
// x/ecocredit/marketplace.MsgBuyDirect. The generated pb.go for that message
// isn't in our dependency tree (regen-ledger isn't a Go module this repo
// imports), so msgBuyDirectAny hand-encodes the wire bytes for the fields we
// need rather than depending on regen-ledger's codegen — the same technique
// the SDK itself falls back to wherever a module's generated types are out
// of reach.
const ecocreditMarketplaceBuyDirectTypeURL = "/regen.ecocredit.marketplace.v1.MsgBuyDirect"

// msgBuyDirect mirrors MsgBuyDirect's wire shape: field 1 is the buyer
// address, field 2 is a repeated BuyDirectOrderList entry. It implements
// just enough of the gogoproto Message contract (Reset/String/ProtoMessage
// plus Marshal); buildAny wraps its encoding in a codectypes.Any literal
// under ecocreditMarketplaceBuyDirectTypeURL.
type msgBuyDirect struct {
	Buyer  string
	Orders []BuyOrder
}

func (m *msgBuyDirect) Reset()         { *m = msgBuyDirect{} }
func (m *msgBuyDirect) String() string { return fmt.Sprintf("MsgBuyDirect{buyer:%s,orders:%d}", m.Buyer, len(m.Orders)) }
func (m *msgBuyDirect) ProtoMessage()  {}

// Marshal hand-encodes the message using protobuf's varint/length-delimited
// wire format. Field 1 (buyer) is a length-delimited string; each order is
// field 2, itself a length-delimited nested message of
// {sellOrderId(1), quantity(2), bidPrice.denom(3), bidPrice.amount(4),
// disableAutoRetire(5), retirementJurisdiction(6), retirementReason(7)}.
func (m *msgBuyDirect) Marshal() ([]byte, error) {
	var buf []byte
	buf = appendTagString(buf, 1, m.Buyer)
	for _, o := range m.Orders {
		var nested []byte
		nested = appendTagString(nested, 1, o.SellOrderID)
		nested = appendTagString(nested, 2, o.Quantity)
		nested = appendTagString(nested, 3, o.BidPrice.Denom)
		nested = appendTagString(nested, 4, o.BidPrice.Amount)
		nested = appendTagBool(nested, 5, o.DisableAutoRetire)
		nested = appendTagString(nested, 6, o.RetirementJurisdiction)
		nested = appendTagString(nested, 7, o.RetirementReason)
		buf = appendTagBytes(buf, 2, nested)
	}
	return buf, nil
}

func appendVarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func appendTagBytes(buf []byte, field int, data []byte) []byte {
	tag := uint64(field)<<3 | 2 // wire type 2: length-delimited
	buf = appendVarint(buf, tag)
	buf = appendVarint(buf, uint64(len(data)))
	return append(buf, data...)
}

func appendTagString(buf []byte, field int, s string) []byte {
	if s == "" {
		return buf
	}
	return appendTagBytes(buf, field, []byte(s))
}

func appendTagBool(buf []byte, field int, b bool) []byte {
	if !b {
		return buf
	}
	tag := uint64(field)<<3 | 0 // wire type 0: varint
	buf = appendVarint(buf, tag)
	return appendVarint(buf, 1)
}

// buildAny packs a BuyDirectMessage into a codectypes.Any carrying the raw
// wire bytes under the marketplace module's type URL.
func buildAny(msg BuyDirectMessage) (*codectypes.Any, error) {
	m := &msgBuyDirect{Buyer: msg.Buyer, Orders: msg.Orders}
	bz, err := m.Marshal()
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to encode MsgBuyDirect: %w", err)
	}
	return &codectypes.Any{
		TypeUrl: ecocreditMarketplaceBuyDirectTypeURL,
		Value:   bz,
	}, nil
}

// fetchAccount looks up the buyer's account number and sequence via the
// auth module's gRPC query service, needed to populate SignerInfo.
func (c *client) fetchAccount(ctx context.Context, address string) (accountNumber, sequence uint64, err error) {
	queryClient := authtypes.NewQueryClient(c.conn)
	resp, err := queryClient.Account(ctx, &authtypes.QueryAccountRequest{Address: address})
	if err != nil {
		return 0, 0, fmt.Errorf("ledger: failed to query account %s: %w", address, err)
	}

	var account authtypes.BaseAccount
	if err := account.Unmarshal(resp.Account.Value); err != nil {
		return 0, 0, fmt.Errorf("ledger: failed to decode account %s: %w", address, err)
	}
	return account.AccountNumber, account.Sequence, nil
}

// SignAndBroadcast builds, signs, and submits a tx carrying one MsgBuyDirect
// per input message, using SIGN_MODE_DIRECT over the wallet's single signing
// handle. Per spec §4.1/§5 callers must not call this concurrently for the
// same wallet — Retirement Service and the Batch Driver each serialize
// their own calls through a single Client.
func (c *client) SignAndBroadcast(ctx context.Context, messages []BuyDirectMessage) (*BroadcastResult, error) {
	if c.wallet == nil {
		return nil, fmt.Errorf("ledger: no wallet configured, cannot broadcast")
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("ledger: no messages to broadcast")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.BroadcastTimeout)
	defer cancel()

	accountNumber, sequence, err := c.fetchAccount(ctx, c.wallet.Address())
	if err != nil {
		return nil, err
	}

	anyMsgs := make([]*codectypes.Any, 0, len(messages))
	for _, msg := range messages {
		a, err := buildAny(msg)
		if err != nil {
			return nil, err
		}
		anyMsgs = append(anyMsgs, a)
	}

	body := &txtypes.TxBody{Messages: anyMsgs}
	bodyBytes, err := body.Marshal()
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to marshal tx body: %w", err)
	}

	pubKeyAny, err := codectypes.NewAnyWithValue(c.wallet.PubKey())
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to pack pubkey: %w", err)
	}

	authInfo := &txtypes.AuthInfo{
		SignerInfos: []*txtypes.SignerInfo{
			{
				PublicKey: pubKeyAny,
				ModeInfo: &txtypes.ModeInfo{
					Sum: &txtypes.ModeInfo_Single_{
						Single: &txtypes.ModeInfo_Single{Mode: signingtypes.SignMode_SIGN_MODE_DIRECT},
					},
				},
				Sequence: sequence,
			},
		},
	}
	authInfoBytes, err := authInfo.Marshal()
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to marshal auth info: %w", err)
	}

	signDoc := &txtypes.SignDoc{
		BodyBytes:     bodyBytes,
		AuthInfoBytes: authInfoBytes,
		ChainId:       c.cfg.ChainID,
		AccountNumber: accountNumber,
	}
	signDocBytes, err := signDoc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to marshal sign doc: %w", err)
	}

	signature, err := c.wallet.Sign(signDocBytes)
	if err != nil {
		return nil, err
	}

	rawTx := &txtypes.TxRaw{
		BodyBytes:     bodyBytes,
		AuthInfoBytes: authInfoBytes,
		Signatures:    [][]byte{signature},
	}
	txBytes, err := rawTx.Marshal()
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to marshal signed tx: %w", err)
	}

	txClient := txtypes.NewServiceClient(c.conn)
	resp, err := txClient.BroadcastTx(ctx, &txtypes.BroadcastTxRequest{
		TxBytes: txBytes,
		Mode:    txtypes.BroadcastMode_BROADCAST_MODE_SYNC,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: broadcast failed: %w", err)
	}

	result := &BroadcastResult{
		Code:   resp.TxResponse.Code,
		TxHash: resp.TxResponse.Txhash,
		Height: resp.TxResponse.Height,
		RawLog: resp.TxResponse.RawLog,
	}

	if result.Code != 0 {
		logger.Warn("ledger broadcast returned a non-zero code",
			zap.Uint32("code", result.Code), zap.String("tx_hash", result.TxHash), zap.String("raw_log", result.RawLog))
	} else {
		logger.Info("broadcast MsgBuyDirect", zap.String("tx_hash", result.TxHash), zap.Int("message_count", len(messages)))
	}

	return result, nil
}
