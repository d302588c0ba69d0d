package config

const (
	defaultConfigPath              = "~/.config/ledgermark/config.toml"
	defaultStagingDir              = "~/.local/share/ledgermark/staging"
	defaultLogDir                  = "~/.local/share/ledgermark/logs"
	defaultLocalStoreDir           = "~/.local/share/ledgermark/cas"
	defaultAPIBind                 = "127.0.0.1:7488"
	defaultTransformBaseURL        = "http://127.0.0.1:5000"
	defaultTransformTimeoutSeconds = 120
	defaultTransformKey            = 12345
	defaultTransformDelta          = 7.75
	defaultPinataURL               = "https://api.pinata.cloud/pinning/pinFileToIPFS"
	defaultGatewayURL              = "https://ipfs.io"
	defaultStorageTimeoutSeconds   = 300
	defaultLedgerRPCURL            = "http://127.0.0.1:8545"
	defaultDeltaScale              = 100000
	defaultGasMarginPercent        = 20
	defaultReceiptTimeoutSeconds   = 300
	defaultReceiptPollIntervalMS   = 1500
	defaultNotifyRequestTimeout    = 10
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
)

// Storage backend identifiers accepted in storage.backend.
const (
	StorageBackendPinata = "pinata"
	StorageBackendLocal  = "local"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Transform: Transform{
			BaseURL:        defaultTransformBaseURL,
			TimeoutSeconds: defaultTransformTimeoutSeconds,
			Key:            defaultTransformKey,
			Delta:          defaultTransformDelta,
		},
		Storage: Storage{
			Backend:        StorageBackendPinata,
			PinataURL:      defaultPinataURL,
			LocalDir:       defaultLocalStoreDir,
			GatewayURL:     defaultGatewayURL,
			TimeoutSeconds: defaultStorageTimeoutSeconds,
		},
		Ledger: Ledger{
			RPCURL:                defaultLedgerRPCURL,
			DeltaScale:            defaultDeltaScale,
			GasMarginPercent:      defaultGasMarginPercent,
			ReceiptTimeoutSeconds: defaultReceiptTimeoutSeconds,
			ReceiptPollIntervalMS: defaultReceiptPollIntervalMS,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Registered:     true,
			Failures:       true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
