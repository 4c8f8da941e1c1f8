package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	banktypes "github.com/cosmos/cosmos-sdk/x/bank/types"

	"github.com/CShear/regen-compute-credits/internal/orders"
	"github.com/CShear/regen-compute-credits/pkg/logger"
	"go.uber.org/zap"
)

// GetBalance queries the wallet's on-chain balance of denom via the bank
// module's gRPC query service — used by the native-token Payment Provider
// (internal/payment) to authorize a purchase without placing a hold.
func (c *client) GetBalance(ctx context.Context, denom string) (*big.Int, error) {
	if c.wallet == nil {
		return nil, fmt.Errorf("ledger: no wallet configured, cannot query balance")
	}
	queryClient := banktypes.NewQueryClient(c.conn)
	resp, err := queryClient.Balance(ctx, &banktypes.QueryBalanceRequest{
		Address: c.wallet.Address(),
		Denom:   denom,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to query balance of %s: %w", denom, err)
	}
	amount, ok := new(big.Int).SetString(resp.Balance.Amount.String(), 10)
	if !ok {
		return nil, fmt.Errorf("ledger: malformed balance amount %q", resp.Balance.Amount.String())
	}
	return amount, nil
}

// fetchJSON decodes a GET response body into target, the same generic
// JSON-over-HTTP helper shape as the teacher's exchange.fetchJSON.
func (c *client) fetchJSON(ctx context.Context, url string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("ledger: failed to build request for %s: %w", url, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("ledger REST request failed", zap.String("url", url), zap.Error(err))
		return fmt.Errorf("ledger: request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ledger: failed to read response from %s: %w", url, err)
	}

	if resp.StatusCode >= 400 {
		logger.Error("ledger REST request returned an error status",
			zap.String("url", url), zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return fmt.Errorf("ledger: %s returned status %d: %s", url, resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("ledger: failed to decode response from %s: %w", url, err)
	}
	return nil
}

// postGraphQL issues a POST request with a GraphQL query body and decodes
// the "data" field of the response into target.
func (c *client) postGraphQL(ctx context.Context, query string, variables map[string]any, target any) error {
	payload, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return fmt.Errorf("ledger: failed to marshal GraphQL request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.GraphQLURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("ledger: failed to build GraphQL request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger: GraphQL request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ledger: failed to read GraphQL response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("ledger: GraphQL endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("ledger: failed to decode GraphQL envelope: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("ledger: GraphQL query returned an error: %s", envelope.Errors[0].Message)
	}
	if target == nil {
		return nil
	}
	return json.Unmarshal(envelope.Data, target)
}

type sellOrdersResponse struct {
	SellOrders []struct {
		ID                string `json:"id"`
		BatchDenom        string `json:"batch_denom"`
		ClassType         string `json:"class_type"`
		Quantity          string `json:"quantity"`
		AskAmount         string `json:"ask_amount"`
		AskDenom          string `json:"ask_denom"`
		DisableAutoRetire bool   `json:"disable_auto_retire"`
		Expiration        string `json:"expiration,omitempty"`
	} `json:"sell_orders"`
}

func (c *client) ListSellOrders(ctx context.Context) ([]orders.SellOrder, error) {
	var raw sellOrdersResponse
	url := fmt.Sprintf("%s/regen/ecocredit/marketplace/v1/sell-orders", c.cfg.RESTBaseURL)
	if err := c.fetchJSON(ctx, url, &raw); err != nil {
		return nil, err
	}

	out := make([]orders.SellOrder, 0, len(raw.SellOrders))
	for _, o := range raw.SellOrders {
		askAmount, ok := new(big.Int).SetString(o.AskAmount, 10)
		if !ok {
			return nil, fmt.Errorf("ledger: sell order %s has a malformed ask amount %q", o.ID, o.AskAmount)
		}
		entry := orders.SellOrder{
			ID:                o.ID,
			BatchDenom:        o.BatchDenom,
			ClassType:         o.ClassType,
			Quantity:          o.Quantity,
			AskAmount:         askAmount,
			AskDenom:          o.AskDenom,
			DisableAutoRetire: o.DisableAutoRetire,
		}
		if o.Expiration != "" {
			ts, err := time.Parse(time.RFC3339, o.Expiration)
			if err != nil {
				return nil, fmt.Errorf("ledger: sell order %s has a malformed expiration %q: %w", o.ID, o.Expiration, err)
			}
			entry.Expiration = &ts
		}
		out = append(out, entry)
	}
	return out, nil
}

func (c *client) ListCreditClasses(ctx context.Context) ([]CreditClass, error) {
	var raw struct {
		Classes []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			Type string `json:"credit_type_abbrev"`
		} `json:"classes"`
	}
	url := fmt.Sprintf("%s/regen/ecocredit/v1/classes", c.cfg.RESTBaseURL)
	if err := c.fetchJSON(ctx, url, &raw); err != nil {
		return nil, err
	}

	out := make([]CreditClass, 0, len(raw.Classes))
	for _, cl := range raw.Classes {
		out = append(out, CreditClass{ID: cl.ID, Name: cl.Name, Type: cl.Type})
	}
	return out, nil
}

func (c *client) ListProjects(ctx context.Context) ([]Project, error) {
	var raw struct {
		Projects []struct {
			ID           string `json:"id"`
			ClassID      string `json:"class_id"`
			Name         string `json:"name"`
			Jurisdiction string `json:"jurisdiction"`
		} `json:"projects"`
	}
	url := fmt.Sprintf("%s/regen/ecocredit/v1/projects", c.cfg.RESTBaseURL)
	if err := c.fetchJSON(ctx, url, &raw); err != nil {
		return nil, err
	}

	out := make([]Project, 0, len(raw.Projects))
	for _, p := range raw.Projects {
		out = append(out, Project{ID: p.ID, ClassID: p.ClassID, Name: p.Name, Jurisdiction: p.Jurisdiction})
	}
	return out, nil
}

func (c *client) GetAllowedDenoms(ctx context.Context) ([]orders.AllowedDenom, error) {
	var raw struct {
		Denoms []struct {
			BankDenom    string `json:"bank_denom"`
			DisplayDenom string `json:"display_denom"`
			Exponent     int    `json:"exponent"`
		} `json:"allowed_denoms"`
	}
	url := fmt.Sprintf("%s/regen/ecocredit/marketplace/v1/allowed-denoms", c.cfg.RESTBaseURL)
	if err := c.fetchJSON(ctx, url, &raw); err != nil {
		return nil, err
	}

	out := make([]orders.AllowedDenom, 0, len(raw.Denoms))
	for _, d := range raw.Denoms {
		out = append(out, orders.AllowedDenom{Denom: d.BankDenom, DisplayDenom: d.DisplayDenom, Exponent: d.Exponent})
	}
	return out, nil
}

func (c *client) GetRetirementByID(ctx context.Context, idOrTxHash string) (*Retirement, error) {
	const query = `
		query($id: String!) {
			retirement(id: $id) {
				nodeId amount batchDenom owner jurisdiction reason timestamp txHash blockHeight
			}
		}`

	var result struct {
		Retirement *retirementNode `json:"retirement"`
	}
	if err := c.postGraphQL(ctx, query, map[string]any{"id": idOrTxHash}, &result); err != nil {
		return nil, err
	}
	if result.Retirement == nil {
		return nil, nil
	}
	return result.Retirement.toRetirement()
}

type retirementNode struct {
	NodeID       string `json:"nodeId"`
	Amount       string `json:"amount"`
	BatchDenom   string `json:"batchDenom"`
	Owner        string `json:"owner"`
	Jurisdiction string `json:"jurisdiction"`
	Reason       string `json:"reason"`
	Timestamp    string `json:"timestamp"`
	TxHash       string `json:"txHash"`
	BlockHeight  uint64 `json:"blockHeight"`
}

func (n *retirementNode) toRetirement() (*Retirement, error) {
	ts, err := time.Parse(time.RFC3339, n.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("ledger: retirement %s has a malformed timestamp %q: %w", n.NodeID, n.Timestamp, err)
	}
	return &Retirement{
		NodeID:       n.NodeID,
		Amount:       n.Amount,
		BatchDenom:   n.BatchDenom,
		Owner:        n.Owner,
		Jurisdiction: n.Jurisdiction,
		Reason:       n.Reason,
		Timestamp:    ts,
		TxHash:       n.TxHash,
		BlockHeight:  n.BlockHeight,
	}, nil
}

// WaitForRetirement polls the indexer for a retirement produced by txHash,
// backing off exponentially. Per spec §4.1 it returns (nil, nil) on
// timeout rather than an error — the caller (Retirement Service) treats an
// unconfirmed-but-broadcast retirement as "pending," not "failed."
func (c *client) WaitForRetirement(ctx context.Context, txHash string, timeout time.Duration) (*Retirement, error) {
	const query = `
		query($txHash: String!) {
			retirementByTxHash(txHash: $txHash) {
				nodeId amount batchDenom owner jurisdiction reason timestamp txHash blockHeight
			}
		}`

	deadline := time.Now().Add(timeout)
	backoff := 500 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		var result struct {
			Retirement *retirementNode `json:"retirementByTxHash"`
		}
		err := c.postGraphQL(ctx, query, map[string]any{"txHash": txHash}, &result)
		if err == nil && result.Retirement != nil {
			return result.Retirement.toRetirement()
		}
		if err != nil {
			logger.Warn("waiting for retirement: indexer query failed, retrying", zap.String("tx_hash", txHash), zap.Error(err))
		}

		if time.Now().Add(backoff).After(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
