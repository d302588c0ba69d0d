package registration_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"ledgermark/internal/pipeline"
	"ledgermark/internal/registration"
	"ledgermark/internal/services"
	"ledgermark/internal/services/ledger"
)

var owner = common.HexToAddress("0x1111111111111111111111111111111111111111")

type fakeSession struct {
	accounts  []common.Address
	requested []common.Address
	requests  int
	err       error
}

func (f *fakeSession) RequestAccounts(context.Context) ([]common.Address, error) {
	f.requests++
	return f.requested, f.err
}

func (f *fakeSession) Accounts(context.Context) ([]common.Address, error) {
	return f.accounts, f.err
}

func (f *fakeSession) EstimateFee(context.Context, ledger.CallArgs) (uint64, error) {
	return 0, errors.New("not used")
}

func (f *fakeSession) Send(context.Context, ledger.CallArgs) (common.Hash, error) {
	return common.Hash{}, errors.New("not used")
}

type fakeLedger struct {
	calls     []string
	got       ledger.Registration
	estimate  error
	submit    error
	wait      error
	confirmed ledger.Confirmation
}

func (f *fakeLedger) Estimate(_ context.Context, reg ledger.Registration) (ledger.Fee, error) {
	f.calls = append(f.calls, "estimate")
	f.got = reg
	return ledger.Fee{Estimated: 100, Limit: 120}, f.estimate
}

func (f *fakeLedger) Submit(context.Context, ledger.Registration, ledger.Fee) (common.Hash, error) {
	f.calls = append(f.calls, "submit")
	return common.HexToHash("0xabc"), f.submit
}

func (f *fakeLedger) WaitReceipt(context.Context, common.Hash) (ledger.Confirmation, error) {
	f.calls = append(f.calls, "wait")
	return f.confirmed, f.wait
}

var request = pipeline.RegistrationRequest{CID: "Qm123", Fingerprint: "post", Strength: 775000}

func TestRegisterConfirmsRecord(t *testing.T) {
	client := &fakeLedger{confirmed: ledger.Confirmation{
		TxHash:      common.HexToHash("0xabc"),
		BlockNumber: 42,
		Timestamp:   time.Unix(1700000100, 0),
		ContentID:   big.NewInt(7),
	}}
	r := registration.NewRegistrar(client, &fakeSession{accounts: []common.Address{owner}}, nil)
	record, err := r.Register(context.Background(), request)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if record.Owner != owner.Hex() || record.CID != "Qm123" || record.Fingerprint != "post" || record.Strength != 775000 {
		t.Fatalf("record = %+v", record)
	}
	if record.Timestamp.IsZero() || record.BlockNumber != 42 || record.ContentID != "7" {
		t.Fatalf("record = %+v", record)
	}
	if client.got.Delta.Int64() != 775000 || client.got.From != owner || client.got.IPFSHash != "Qm123" {
		t.Fatalf("registration = %+v", client.got)
	}
	if len(client.calls) != 3 {
		t.Fatalf("calls = %v", client.calls)
	}
}

func TestRegisterRequestsAccountsWhenNoneExposed(t *testing.T) {
	session := &fakeSession{requested: []common.Address{owner}}
	client := &fakeLedger{}
	record, err := registration.NewRegistrar(client, session, nil).Register(context.Background(), request)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if session.requests != 1 || record.Owner != owner.Hex() {
		t.Fatalf("requests = %d record = %+v", session.requests, record)
	}
	if record.Timestamp.IsZero() {
		t.Fatal("expected fallback confirmation timestamp")
	}
}

func TestRegisterWithoutSession(t *testing.T) {
	client := &fakeLedger{}
	r := registration.NewRegistrar(client, nil, nil)
	_, err := r.Register(context.Background(), request)
	if !errors.Is(err, services.ErrSigningUnavailable) {
		t.Fatalf("expected signing unavailable, got %v", err)
	}
	if len(client.calls) != 0 {
		t.Fatalf("ledger should not be contacted: %v", client.calls)
	}
	if h := r.HealthCheck(context.Background()); h.Ready {
		t.Fatal("expected unhealthy without session")
	}
}

func TestRegisterWithoutAccount(t *testing.T) {
	_, err := registration.NewRegistrar(&fakeLedger{}, &fakeSession{}, nil).Register(context.Background(), request)
	if !errors.Is(err, services.ErrSigningUnavailable) {
		t.Fatalf("expected signing unavailable, got %v", err)
	}
}

func TestRegisterStopsAtFailingSubStep(t *testing.T) {
	declined := services.Wrap(services.ErrSigningDeclined, "", "send transaction", "signing declined; no transaction was sent", nil)
	cases := []struct {
		name   string
		client *fakeLedger
		marker error
		calls  int
	}{
		{"estimate", &fakeLedger{estimate: services.Wrap(services.ErrSigningEstimation, "", "estimate fee", "fee estimation failed", nil)}, services.ErrSigningEstimation, 1},
		{"declined", &fakeLedger{submit: declined}, services.ErrSigningDeclined, 2},
		{"receipt", &fakeLedger{wait: services.Wrap(services.ErrSigningSubmission, "", "wait receipt", "reverted", nil)}, services.ErrSigningSubmission, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := registration.NewRegistrar(tc.client, &fakeSession{accounts: []common.Address{owner}}, nil)
			_, err := r.Register(context.Background(), request)
			if !errors.Is(err, tc.marker) {
				t.Fatalf("expected %v, got %v", tc.marker, err)
			}
			if len(tc.client.calls) != tc.calls {
				t.Fatalf("calls = %v", tc.client.calls)
			}
		})
	}
}

func TestRegisterValidatesRequest(t *testing.T) {
	r := registration.NewRegistrar(&fakeLedger{}, &fakeSession{accounts: []common.Address{owner}}, nil)
	if _, err := r.Register(context.Background(), pipeline.RegistrationRequest{Fingerprint: "x"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHealthReportsAccount(t *testing.T) {
	h := registration.NewRegistrar(&fakeLedger{}, &fakeSession{accounts: []common.Address{owner}}, nil).HealthCheck(context.Background())
	if !h.Ready || h.Detail != owner.Hex() {
		t.Fatalf("health = %+v", h)
	}
}
