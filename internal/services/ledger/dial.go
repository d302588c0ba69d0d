package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"ledgermark/internal/services"
)

// Config captures the settings needed to reach the registry contract.
type Config struct {
	RPCURL           string
	ContractAddress  string
	ChainID          int64
	GasMarginPercent int
	ReceiptTimeout   time.Duration
	ReceiptInterval  time.Duration
}

// Connection bundles the clients built on a single RPC endpoint.
type Connection struct {
	Session  *RPCSession
	Client   *Client
	Registry *Registry
	rpc      *rpc.Client
}

// Dial connects to the configured endpoint. The connection is lazy for HTTP
// endpoints, so an unreachable node surfaces on first use.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Connection, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, services.Wrap(services.ErrConfiguration, "", "dial ledger", fmt.Sprintf("invalid contract address %q", cfg.ContractAddress), nil)
	}
	rpcClient, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, services.Transport("ledger", "dial", err)
	}
	var chainID *big.Int
	if cfg.ChainID > 0 {
		chainID = big.NewInt(cfg.ChainID)
	}
	contract := common.HexToAddress(cfg.ContractAddress)
	eth := ethclient.NewClient(rpcClient)
	session := NewRPCSession(rpcClient, chainID)
	client := NewClient(ClientConfig{
		Contract:         contract,
		GasMarginPercent: cfg.GasMarginPercent,
		ReceiptTimeout:   cfg.ReceiptTimeout,
		ReceiptInterval:  cfg.ReceiptInterval,
	}, session, eth, logger)
	return &Connection{
		Session:  session,
		Client:   client,
		Registry: NewRegistry(eth, contract),
		rpc:      rpcClient,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Connection) Close() {
	if c != nil && c.rpc != nil {
		c.rpc.Close()
	}
}
