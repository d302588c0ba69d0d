// Package registration records stored artifacts on the ledger through a
// signing session.
package registration

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"ledgermark/internal/logging"
	"ledgermark/internal/pipeline"
	"ledgermark/internal/services"
	"ledgermark/internal/services/ledger"
	"ledgermark/internal/stage"
)

const stageName = "register"

// Registrar implements pipeline.Registrar. Each Register call performs fee
// estimation, signing and submission, and confirmation in that order.
type Registrar struct {
	client  ledger.LedgerClient
	session ledger.SigningSession
	logger  *slog.Logger
	now     func() time.Time
}

// NewRegistrar wires a registrar. A nil session yields a registrar that
// reports the signing capability as unavailable.
func NewRegistrar(client ledger.LedgerClient, session ledger.SigningSession, logger *slog.Logger) *Registrar {
	return &Registrar{
		client:  client,
		session: session,
		logger:  logging.NewComponentLogger(logger, stageName),
		now:     time.Now,
	}
}

// Register submits the registration and waits for confirmation.
func (r *Registrar) Register(ctx context.Context, req pipeline.RegistrationRequest) (pipeline.LedgerRecord, error) {
	if r.session == nil || r.client == nil {
		return pipeline.LedgerRecord{}, services.Wrap(services.ErrSigningUnavailable, stageName, "connect signer",
			"cannot proceed: no signing session is available", nil)
	}
	if strings.TrimSpace(req.CID) == "" || strings.TrimSpace(req.Fingerprint) == "" {
		return pipeline.LedgerRecord{}, services.Wrap(services.ErrValidation, stageName, "register",
			"content identifier and fingerprint are required", nil)
	}
	if req.Strength < 0 {
		return pipeline.LedgerRecord{}, services.Wrap(services.ErrValidation, stageName, "register",
			"embedding strength must not be negative", nil)
	}

	from, err := r.account(ctx)
	if err != nil {
		return pipeline.LedgerRecord{}, err
	}
	logger := logging.WithContext(ctx, r.logger).With(logging.String("owner", from.Hex()))

	reg := ledger.Registration{
		From:       from,
		IPFSHash:   req.CID,
		SHA256Hash: req.Fingerprint,
		Delta:      big.NewInt(req.Strength),
	}
	fee, err := r.client.Estimate(ctx, reg)
	if err != nil {
		return pipeline.LedgerRecord{}, err
	}
	logger.Debug("fee estimated", logging.Uint64("gas_estimate", fee.Estimated), logging.Uint64("gas_limit", fee.Limit))

	tx, err := r.client.Submit(ctx, reg, fee)
	if err != nil {
		return pipeline.LedgerRecord{}, err
	}
	logger.Debug("awaiting confirmation", logging.String("tx_hash", tx.Hex()))

	confirmation, err := r.client.WaitReceipt(ctx, tx)
	if err != nil {
		return pipeline.LedgerRecord{}, err
	}
	timestamp := confirmation.Timestamp
	if timestamp.IsZero() {
		timestamp = r.now()
	}
	record := pipeline.LedgerRecord{
		Owner:       from.Hex(),
		CID:         req.CID,
		Fingerprint: req.Fingerprint,
		Strength:    req.Strength,
		Timestamp:   timestamp.UTC(),
		TxHash:      confirmation.TxHash.Hex(),
		BlockNumber: confirmation.BlockNumber,
	}
	if confirmation.ContentID != nil {
		record.ContentID = confirmation.ContentID.String()
	}
	return record, nil
}

// account returns the session's first address, asking the signer to connect
// when none is exposed yet.
func (r *Registrar) account(ctx context.Context) (common.Address, error) {
	accounts, err := r.session.Accounts(ctx)
	if err != nil {
		return common.Address{}, wrapAccountErr(err)
	}
	if len(accounts) == 0 {
		accounts, err = r.session.RequestAccounts(ctx)
		if err != nil {
			return common.Address{}, wrapAccountErr(err)
		}
	}
	if len(accounts) == 0 {
		return common.Address{}, services.Wrap(services.ErrSigningUnavailable, stageName, "connect signer",
			"cannot proceed: the signing session exposes no account", nil)
	}
	return accounts[0], nil
}

// HealthCheck reports whether a signing account is available.
func (r *Registrar) HealthCheck(ctx context.Context) stage.Health {
	if r.session == nil || r.client == nil {
		return stage.Unhealthy(stageName, "no signing session configured")
	}
	accounts, err := r.session.Accounts(ctx)
	if err != nil {
		return stage.Unhealthy(stageName, err.Error())
	}
	if len(accounts) == 0 {
		return stage.Unhealthy(stageName, "signing session exposes no account")
	}
	return stage.HealthyWithDetail(stageName, accounts[0].Hex())
}

func wrapAccountErr(err error) error {
	marker := services.MarkerOf(err, services.ErrSigningUnavailable)
	if marker == services.ErrTransport || marker == services.ErrService {
		marker = services.ErrSigningUnavailable
	}
	return services.Wrap(marker, stageName, "connect signer", "could not obtain a signing account; no transaction was sent", err)
}
