package main

import (
	"context"
	"log/slog"

	"ledgermark/internal/config"
	"ledgermark/internal/dedup"
	"ledgermark/internal/embedding"
	"ledgermark/internal/notifications"
	"ledgermark/internal/pipeline"
	"ledgermark/internal/registration"
	"ledgermark/internal/services/ipfs"
	"ledgermark/internal/services/ledger"
	"ledgermark/internal/services/transform"
	"ledgermark/internal/sessions"
	"ledgermark/internal/stage"
	"ledgermark/internal/stageexec"
	"ledgermark/internal/upload"
)

type runtimeOptions struct {
	progress ipfs.ProgressFunc
	noStore  bool
}

// runtime holds every wired component for one CLI invocation.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *sessions.Store
	transform *transform.Client
	backend   ipfs.Backend
	ledger    *ledger.Connection
	notifier  notifications.Service

	stages   pipeline.Stages
	checkers []stage.Checker
}

func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts runtimeOptions) (*runtime, error) {
	rt := &runtime{
		cfg:      cfg,
		logger:   logger,
		notifier: notifications.NewService(cfg),
	}

	rt.transform = transform.NewClient(transform.Config{
		BaseURL:        cfg.Transform.BaseURL,
		TimeoutSeconds: cfg.Transform.TimeoutSeconds,
		Key:            cfg.Transform.Key,
		Delta:          cfg.Transform.Delta,
	})

	backend, err := ipfs.Open(ipfs.Config{
		Backend:        cfg.Storage.Backend,
		PinataURL:      cfg.Storage.PinataURL,
		APIKey:         cfg.Storage.PinataAPIKey,
		APISecret:      cfg.Storage.PinataAPISecret,
		JWT:            cfg.Storage.PinataJWT,
		LocalDir:       cfg.Storage.LocalDir,
		TimeoutSeconds: cfg.Storage.TimeoutSeconds,
	})
	if err != nil {
		return nil, err
	}
	rt.backend = backend

	// Without a contract the registrar reports SigningUnavailable when reached.
	var (
		ledgerClient ledger.LedgerClient
		session      ledger.SigningSession
	)
	if cfg.Ledger.ContractAddress != "" {
		conn, err := ledger.Dial(ctx, ledger.Config{
			RPCURL:           cfg.Ledger.RPCURL,
			ContractAddress:  cfg.Ledger.ContractAddress,
			ChainID:          cfg.Ledger.ChainID,
			GasMarginPercent: cfg.Ledger.GasMarginPercent,
			ReceiptTimeout:   cfg.ReceiptTimeout(),
			ReceiptInterval:  cfg.ReceiptPollInterval(),
		}, logger)
		if err != nil {
			return nil, err
		}
		rt.ledger = conn
		ledgerClient = conn.Client
		session = conn.Session
	}

	var uploadOpts []upload.Option
	if opts.progress != nil {
		uploadOpts = append(uploadOpts, upload.WithProgress(opts.progress))
	}
	checker := dedup.NewChecker(rt.transform, logger)
	embedder := embedding.NewEmbedder(rt.transform, cfg.Ledger.DeltaScale, logger)
	uploader := upload.NewUploader(backend, cfg.Storage.GatewayURL, logger, uploadOpts...)
	registrar := registration.NewRegistrar(ledgerClient, session, logger)

	rt.stages = pipeline.Stages{
		Dedup:     checker,
		Embedder:  embedder,
		Uploader:  uploader,
		Registrar: registrar,
	}
	rt.checkers = []stage.Checker{checker, embedder, uploader, registrar}

	if !opts.noStore {
		store, err := sessions.Open(cfg)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.store = store
	}
	return rt, nil
}

// exec returns the options used by stageexec for this invocation.
func (rt *runtime) exec() stageexec.Options {
	return stageexec.Options{
		Logger:   rt.logger,
		Store:    rt.store,
		Notifier: rt.notifier,
		Stages:   rt.stages,
	}
}

// requireRegistry returns the read-only registry or a configuration error.
func (rt *runtime) requireRegistry() (*ledger.Registry, error) {
	if err := rt.cfg.RequireLedger(); err != nil {
		return nil, err
	}
	return rt.ledger.Registry, nil
}

func (rt *runtime) Close() {
	if rt.store != nil {
		_ = rt.store.Close()
	}
	rt.ledger.Close()
}
