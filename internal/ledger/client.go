// Package ledger wraps the public ecological-credit blockchain ("the
// Ledger") behind a narrow interface: REST + GraphQL reads, and one
// gRPC-broadcast write. It is the Cosmos-SDK-shaped counterpart of the
// teacher's internal/lnd package — same shape (Config, narrow interface,
// constructor with a startup health call, typed results instead of raw
// protobuf/REST payloads leaking into callers), different chain.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/CShear/regen-compute-credits/internal/orders"
	"github.com/CShear/regen-compute-credits/pkg/logger"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// Config holds the Ledger connection settings (populated from toml/env via
// [config.ApiConfig]).
type Config struct {
	RESTBaseURL      string        // Cosmos REST base, e.g. "https://api.regen.network"
	GraphQLURL       string        // indexer GraphQL endpoint
	GRPCEndpoint     string        // "host:port" for the tx broadcast service
	GRPCUseTLS       bool          // false for local/dev nodes
	ChainID          string
	NativeDenom      string        // the chain's native token denom, e.g. "uregen"
	Mnemonic         string        // wallet secret; opaque, never logged
	DerivationPath   string        // defaults to defaultDerivationPath when empty
	RequestTimeout   time.Duration // per-RPC deadline
	BroadcastTimeout time.Duration
}

// Client is the narrow surface the rest of the codebase depends on, so
// callers (internal/retirement, internal/batch) never see REST/gRPC/GraphQL
// details directly.
type Client interface {
	ListSellOrders(ctx context.Context) ([]orders.SellOrder, error)
	ListCreditClasses(ctx context.Context) ([]CreditClass, error)
	ListProjects(ctx context.Context) ([]Project, error)
	GetAllowedDenoms(ctx context.Context) ([]orders.AllowedDenom, error)
	GetRetirementByID(ctx context.Context, idOrTxHash string) (*Retirement, error)
	WaitForRetirement(ctx context.Context, txHash string, timeout time.Duration) (*Retirement, error)
	SignAndBroadcast(ctx context.Context, messages []BuyDirectMessage) (*BroadcastResult, error)
	GetBalance(ctx context.Context, denom string) (*big.Int, error)
	Address() string
	NativeDenom() string
	Close() error
}

// CreditClass is the read-model shape for a credit class on the Ledger.
type CreditClass struct {
	ID   string
	Name string
	Type string // "C" for carbon; any other code otherwise
}

// Project is the read-model shape for a project on the Ledger.
type Project struct {
	ID           string
	ClassID      string
	Name         string
	Jurisdiction string
}

// Retirement is the read model returned by the GraphQL indexer.
type Retirement struct {
	NodeID       string
	Amount       string
	BatchDenom   string
	Owner        string
	Jurisdiction string
	Reason       string
	Timestamp    time.Time
	TxHash       string
	BlockHeight  uint64
}

// Coin mirrors the on-chain {denom, amount} pair.
type Coin struct {
	Denom  string
	Amount string
}

// BuyOrder is one line item of a BuyDirectMessage — spec §6's "buy direct"
// write message shape.
type BuyOrder struct {
	SellOrderID            string
	Quantity               string
	BidPrice               Coin
	DisableAutoRetire      bool
	RetirementJurisdiction string
	RetirementReason       string
}

// BuyDirectMessage is the Cosmos-SDK-shaped tx message the Retirement
// Service and Batch Driver build and broadcast.
type BuyDirectMessage struct {
	Buyer  string
	Orders []BuyOrder
}

// BroadcastResult is returned by SignAndBroadcast.
type BroadcastResult struct {
	Code    uint32
	TxHash  string
	Height  int64
	RawLog  string
}

// client is the concrete Client implementation.
type client struct {
	cfg        Config
	httpClient *http.Client
	conn       *grpc.ClientConn
	wallet     *Wallet
}

// NewClient dials the Ledger's gRPC broadcast endpoint and derives the
// wallet signing key, failing fast (like the teacher's lnd.NewClient) with
// a startup health call against the REST endpoint. When cfg.Mnemonic is
// empty, no wallet is derived and Address() returns "" — Retirement
// Service interprets that as "no wallet configured" (spec §4.4 step 1) and
// falls back to the marketplace immediately rather than failing startup.
func NewClient(cfg Config) (Client, error) {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.BroadcastTimeout == 0 {
		cfg.BroadcastTimeout = 30 * time.Second
	}

	var wallet *Wallet
	if cfg.Mnemonic != "" {
		w, err := DeriveWallet(cfg.Mnemonic, cfg.DerivationPath)
		if err != nil {
			return nil, fmt.Errorf("ledger: failed to derive wallet: %w", err)
		}
		wallet = w
	}

	dialOpts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	if cfg.GRPCUseTLS {
		return nil, fmt.Errorf("ledger: TLS transport credentials must be supplied via a configured cert path (not yet wired) — set GRPCUseTLS=false for a plaintext/dev endpoint")
	}
	dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))

	conn, err := grpc.NewClient(cfg.GRPCEndpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("ledger: could not dial %s: %w", cfg.GRPCEndpoint, err)
	}

	c := &client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		conn:       conn,
		wallet:     wallet,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()
	if _, err := c.GetAllowedDenoms(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: startup health check failed (is the REST endpoint reachable?): %w", err)
	}

	logger.Info("connected to Ledger",
		zap.String("rest_base_url", cfg.RESTBaseURL),
		zap.String("grpc_endpoint", cfg.GRPCEndpoint),
		zap.Bool("wallet_configured", wallet != nil),
	)

	return c, nil
}

// Address returns "" when no wallet was configured.
func (c *client) Address() string {
	if c.wallet == nil {
		return ""
	}
	return c.wallet.Address()
}

func (c *client) NativeDenom() string {
	return c.cfg.NativeDenom
}

func (c *client) Close() error {
	return c.conn.Close()
}
