package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/time/rate"

	"ledgermark/internal/logging"
	"ledgermark/internal/services"
)

const (
	defaultReceiptTimeout  = 5 * time.Minute
	defaultReceiptInterval = 1500 * time.Millisecond
)

// Registration is the argument set of a registerContent call.
type Registration struct {
	From       common.Address
	IPFSHash   string
	SHA256Hash string
	Delta      *big.Int
}

// Fee is the gas budget approved for a registration.
type Fee struct {
	Estimated uint64
	Limit     uint64
}

// Confirmation describes a mined registration transaction.
type Confirmation struct {
	TxHash      common.Hash
	BlockNumber uint64
	Timestamp   time.Time
	GasUsed     uint64
	ContentID   *big.Int
}

// LedgerClient estimates, submits, and confirms registration transactions.
type LedgerClient interface {
	Estimate(ctx context.Context, reg Registration) (Fee, error)
	Submit(ctx context.Context, reg Registration, fee Fee) (common.Hash, error)
	WaitReceipt(ctx context.Context, tx common.Hash) (Confirmation, error)
}

// ChainReader is the subset of ethclient used to confirm transactions.
type ChainReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// ClientConfig tunes the registration client.
type ClientConfig struct {
	Contract         common.Address
	GasMarginPercent int
	ReceiptTimeout   time.Duration
	ReceiptInterval  time.Duration
}

// Client composes a SigningSession with a chain reader to implement LedgerClient.
type Client struct {
	cfg     ClientConfig
	session SigningSession
	chain   ChainReader
	logger  *slog.Logger
	now     func() time.Time
}

// NewClient constructs a registration client.
func NewClient(cfg ClientConfig, session SigningSession, chain ChainReader, logger *slog.Logger) *Client {
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = defaultReceiptTimeout
	}
	if cfg.ReceiptInterval <= 0 {
		cfg.ReceiptInterval = defaultReceiptInterval
	}
	if cfg.GasMarginPercent < 0 {
		cfg.GasMarginPercent = 0
	}
	return &Client{
		cfg:     cfg,
		session: session,
		chain:   chain,
		logger:  logging.NewComponentLogger(logger, "ledger"),
		now:     time.Now,
	}
}

func (c *Client) call(reg Registration) (CallArgs, error) {
	data, err := PackRegister(reg.IPFSHash, reg.SHA256Hash, reg.Delta)
	if err != nil {
		return CallArgs{}, services.Wrap(services.ErrSigningEstimation, "", "encode call", "registration arguments are malformed", err)
	}
	return CallArgs{From: reg.From, To: c.cfg.Contract, Data: data}, nil
}

// Estimate asks the signing session for the gas required and applies the
// configured safety margin. No transaction is sent.
func (c *Client) Estimate(ctx context.Context, reg Registration) (Fee, error) {
	if c.session == nil {
		return Fee{}, services.Wrap(services.ErrSigningUnavailable, "", "estimate fee", "no signing session", nil)
	}
	call, err := c.call(reg)
	if err != nil {
		return Fee{}, err
	}
	gas, err := c.session.EstimateFee(ctx, call)
	if err != nil {
		return Fee{}, services.Wrap(services.MarkerOf(err, services.ErrSigningEstimation), "", "estimate fee", "fee estimation failed; no transaction was sent", err)
	}
	if gas == 0 {
		return Fee{}, services.Wrap(services.ErrSigningEstimation, "", "estimate fee", "endpoint estimated zero gas; no transaction was sent", nil)
	}
	limit := gas + gas*uint64(c.cfg.GasMarginPercent)/100
	return Fee{Estimated: gas, Limit: limit}, nil
}

// Submit signs and broadcasts the registration. It may block until the
// account holder approves; cancelling ctx abandons the request.
func (c *Client) Submit(ctx context.Context, reg Registration, fee Fee) (common.Hash, error) {
	if c.session == nil {
		return common.Hash{}, services.Wrap(services.ErrSigningUnavailable, "", "send transaction", "no signing session", nil)
	}
	call, err := c.call(reg)
	if err != nil {
		return common.Hash{}, err
	}
	call.Gas = fee.Limit
	hash, err := c.session.Send(ctx, call)
	if err != nil {
		marker := services.MarkerOf(err, services.ErrSigningSubmission)
		message := "submission failed; the transaction may not have been broadcast"
		switch {
		case marker == services.ErrSigningDeclined && errors.Is(err, services.ErrBroadcastPending):
			message = "signing cancelled while the wallet held the request; it may still broadcast the transaction"
		case marker == services.ErrSigningDeclined:
			message = "signing declined; no transaction was sent"
		case marker == services.ErrTransport:
			marker = services.ErrSigningSubmission
		}
		return common.Hash{}, services.Wrap(marker, "", "send transaction", message, err)
	}
	c.logger.Info("registration transaction broadcast",
		logging.String("tx_hash", hash.Hex()),
		logging.Uint64("gas_limit", fee.Limit),
	)
	return hash, nil
}

// WaitReceipt polls for the transaction receipt at the configured pace until
// it is mined or the receipt timeout elapses.
func (c *Client) WaitReceipt(ctx context.Context, tx common.Hash) (Confirmation, error) {
	if c.chain == nil {
		return Confirmation{}, services.Wrap(services.ErrConfiguration, "", "wait receipt", "no chain reader configured", nil)
	}
	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(c.cfg.ReceiptInterval), 1)
	var lastErr error
	for {
		if err := limiter.Wait(waitCtx); err != nil {
			return Confirmation{}, c.waitFailure(ctx, tx, lastErr)
		}
		receipt, err := c.chain.TransactionReceipt(waitCtx, tx)
		if err != nil {
			if !errors.Is(err, ethereum.NotFound) {
				lastErr = err
				c.logger.Debug("receipt lookup failed", logging.String("tx_hash", tx.Hex()), logging.Error(err))
			}
			if waitCtx.Err() != nil {
				return Confirmation{}, c.waitFailure(ctx, tx, lastErr)
			}
			continue
		}
		return c.confirm(waitCtx, tx, receipt)
	}
}

func (c *Client) waitFailure(parent context.Context, tx common.Hash, lastErr error) error {
	if err := parent.Err(); err != nil {
		return services.Wrap(services.ErrSigningSubmission, "", "wait receipt",
			fmt.Sprintf("stopped waiting for %s; the transaction was broadcast and may still be mined", tx.Hex()), err)
	}
	cause := lastErr
	if cause == nil {
		cause = context.DeadlineExceeded
	}
	return services.Wrap(services.ErrSigningSubmission, "", "wait receipt",
		fmt.Sprintf("transaction %s not confirmed within %s; the ledger mutation may still occur", tx.Hex(), c.cfg.ReceiptTimeout), cause)
}

func (c *Client) confirm(ctx context.Context, tx common.Hash, receipt *types.Receipt) (Confirmation, error) {
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Confirmation{}, services.Wrap(services.ErrSigningSubmission, "", "wait receipt",
			fmt.Sprintf("transaction %s reverted; the ledger was not changed", tx.Hex()),
			fmt.Errorf("receipt status %d: %w", receipt.Status, services.ErrLedgerUnchanged))
	}
	conf := Confirmation{TxHash: tx, GasUsed: receipt.GasUsed, Timestamp: c.now().UTC()}
	if receipt.BlockNumber != nil {
		conf.BlockNumber = receipt.BlockNumber.Uint64()
		header, err := c.chain.HeaderByNumber(ctx, receipt.BlockNumber)
		if err == nil && header != nil {
			conf.Timestamp = time.Unix(int64(header.Time), 0).UTC()
		} else if err != nil {
			c.logger.Debug("block header lookup failed; using local time", logging.Error(err))
		}
	}
	conf.ContentID = registeredID(receipt.Logs, c.cfg.Contract)
	return conf, nil
}

// registeredID extracts the content id from a ContentRegistered log, if present.
func registeredID(logs []*types.Log, contract common.Address) *big.Int {
	parsed, err := RegistryABI()
	if err != nil {
		return nil
	}
	event, ok := parsed.Events[eventRegistered]
	if !ok {
		return nil
	}
	for _, entry := range logs {
		if entry == nil || entry.Address != contract || len(entry.Topics) < 2 {
			continue
		}
		if entry.Topics[0] != event.ID {
			continue
		}
		return new(big.Int).SetBytes(entry.Topics[1].Bytes())
	}
	return nil
}
