package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"ledgermark/internal/logging"
	"ledgermark/internal/services"
	"ledgermark/internal/services/ledger"
)

type fakeSession struct {
	mu          sync.Mutex
	gas         uint64
	estimateErr error
	sendErr     error
	hash        common.Hash
	sent        []ledger.CallArgs
}

func (s *fakeSession) RequestAccounts(context.Context) ([]common.Address, error) {
	return []common.Address{common.HexToAddress(ownerHex)}, nil
}

func (s *fakeSession) Accounts(context.Context) ([]common.Address, error) {
	return []common.Address{common.HexToAddress(ownerHex)}, nil
}

func (s *fakeSession) EstimateFee(context.Context, ledger.CallArgs) (uint64, error) {
	return s.gas, s.estimateErr
}

func (s *fakeSession) Send(_ context.Context, call ledger.CallArgs) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, call)
	return s.hash, s.sendErr
}

type fakeChain struct {
	mu      sync.Mutex
	pending int
	calls   int
	receipt *types.Receipt
	header  *types.Header
}

func (c *fakeChain) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.receipt == nil || c.calls <= c.pending {
		return nil, ethereum.NotFound
	}
	return c.receipt, nil
}

func (c *fakeChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	if c.header == nil {
		return nil, ethereum.NotFound
	}
	return c.header, nil
}

func newTestClient(session ledger.SigningSession, chain ledger.ChainReader, timeout time.Duration) *ledger.Client {
	return ledger.NewClient(ledger.ClientConfig{
		Contract:         common.HexToAddress(contractHex),
		GasMarginPercent: 20,
		ReceiptTimeout:   timeout,
		ReceiptInterval:  time.Millisecond,
	}, session, chain, logging.NewNop())
}

func testRegistration() ledger.Registration {
	return ledger.Registration{
		From:       common.HexToAddress(ownerHex),
		IPFSHash:   "Qm123",
		SHA256Hash: "post",
		Delta:      big.NewInt(775000),
	}
}

func TestEstimateAppliesMargin(t *testing.T) {
	session := &fakeSession{gas: 100000}
	client := newTestClient(session, &fakeChain{}, time.Second)

	fee, err := client.Estimate(context.Background(), testRegistration())
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if fee.Estimated != 100000 || fee.Limit != 120000 {
		t.Fatalf("unexpected fee %+v", fee)
	}
}

func TestEstimateFailureIsEstimationKind(t *testing.T) {
	session := &fakeSession{estimateErr: errors.New("execution reverted")}
	client := newTestClient(session, &fakeChain{}, time.Second)

	_, err := client.Estimate(context.Background(), testRegistration())
	if services.Kind(err) != "signing_estimation" {
		t.Fatalf("expected signing_estimation, got %q: %v", services.Kind(err), err)
	}
	if len(session.sent) != 0 {
		t.Fatal("estimation failure must not send a transaction")
	}
}

func TestSubmitDeclined(t *testing.T) {
	session := &fakeSession{sendErr: services.Wrap(services.ErrSigningDeclined, "", "send", "rejected", nil)}
	client := newTestClient(session, &fakeChain{}, time.Second)

	_, err := client.Submit(context.Background(), testRegistration(), ledger.Fee{Limit: 120000})
	if services.Kind(err) != "signing_declined" {
		t.Fatalf("expected signing_declined, got %q: %v", services.Kind(err), err)
	}
	if !strings.Contains(err.Error(), "no transaction was sent") {
		t.Fatalf("expected decline message, got %v", err)
	}
	if session.sent[0].Gas != 120000 {
		t.Fatalf("expected gas limit on call, got %d", session.sent[0].Gas)
	}
}

func TestSubmitCancelledAfterHandoff(t *testing.T) {
	pending := services.Wrap(services.ErrSigningDeclined, "", "send transaction", "cancelled",
		fmt.Errorf("%w: %w", services.ErrBroadcastPending, context.Canceled))
	client := newTestClient(&fakeSession{sendErr: pending}, &fakeChain{}, time.Second)

	_, err := client.Submit(context.Background(), testRegistration(), ledger.Fee{Limit: 120000})
	if services.Kind(err) != "signing_declined" || !errors.Is(err, services.ErrBroadcastPending) {
		t.Fatalf("expected declined with pending broadcast, got %q: %v", services.Kind(err), err)
	}
	if strings.Contains(err.Error(), "no transaction was sent") || !strings.Contains(err.Error(), "may still broadcast") {
		t.Fatalf("message must not claim nothing was sent: %v", err)
	}
}

func TestWaitReceiptConfirms(t *testing.T) {
	parsed, err := ledger.RegistryABI()
	if err != nil {
		t.Fatalf("RegistryABI: %v", err)
	}
	event := parsed.Events["ContentRegistered"]
	chain := &fakeChain{
		pending: 2,
		receipt: &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(42),
			GasUsed:     90000,
			Logs: []*types.Log{{
				Address: common.HexToAddress(contractHex),
				Topics:  []common.Hash{event.ID, common.BigToHash(big.NewInt(7)), common.BytesToHash(common.HexToAddress(ownerHex).Bytes())},
			}},
		},
		header: &types.Header{Number: big.NewInt(42), Time: 1700000000},
	}
	client := newTestClient(&fakeSession{}, chain, time.Second)
	tx := common.HexToHash("0xabc")

	conf, err := client.WaitReceipt(context.Background(), tx)
	if err != nil {
		t.Fatalf("WaitReceipt: %v", err)
	}
	if conf.TxHash != tx || conf.BlockNumber != 42 || conf.GasUsed != 90000 {
		t.Fatalf("unexpected confirmation %+v", conf)
	}
	if !conf.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected timestamp %v", conf.Timestamp)
	}
	if conf.ContentID == nil || conf.ContentID.Int64() != 7 {
		t.Fatalf("unexpected content id %v", conf.ContentID)
	}
	if chain.calls != 3 {
		t.Fatalf("expected 3 receipt lookups, got %d", chain.calls)
	}
}

func TestWaitReceiptReverted(t *testing.T) {
	chain := &fakeChain{receipt: &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(1)}}
	client := newTestClient(&fakeSession{}, chain, time.Second)

	_, err := client.WaitReceipt(context.Background(), common.HexToHash("0x1"))
	if services.Kind(err) != "signing_submission" || !strings.Contains(err.Error(), "reverted") {
		t.Fatalf("expected reverted submission failure, got %v", err)
	}
	if !errors.Is(err, services.ErrLedgerUnchanged) {
		t.Fatalf("expected a revert to be marked ledger-unchanged, got %v", err)
	}
}

func TestWaitReceiptTimesOut(t *testing.T) {
	client := newTestClient(&fakeSession{}, &fakeChain{}, 20*time.Millisecond)

	_, err := client.WaitReceipt(context.Background(), common.HexToHash("0x1"))
	if services.Kind(err) != "signing_submission" {
		t.Fatalf("expected submission failure, got %q: %v", services.Kind(err), err)
	}
	if !strings.Contains(err.Error(), "may still occur") {
		t.Fatalf("expected partial-mutation warning, got %v", err)
	}
}

func TestWaitReceiptCancelled(t *testing.T) {
	client := newTestClient(&fakeSession{}, &fakeChain{}, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := client.WaitReceipt(ctx, common.HexToHash("0x1"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to be reported, got %v", err)
	}
	if !strings.Contains(err.Error(), "may still be mined") {
		t.Fatalf("expected orphan warning, got %v", err)
	}
}

func TestNilSessionIsUnavailable(t *testing.T) {
	client := newTestClient(nil, &fakeChain{}, time.Second)
	_, err := client.Estimate(context.Background(), testRegistration())
	if !errors.Is(err, services.ErrSigningUnavailable) {
		t.Fatalf("expected ErrSigningUnavailable, got %v", err)
	}
}
