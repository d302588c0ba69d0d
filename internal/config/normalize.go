package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTransform()
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeLedger()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = envOverride(c.Paths.APIToken, "LEDGERMARK_API_TOKEN")
	return nil
}

func (c *Config) normalizeTransform() {
	c.Transform.BaseURL = strings.TrimRight(strings.TrimSpace(c.Transform.BaseURL), "/")
	if c.Transform.BaseURL == "" {
		c.Transform.BaseURL = defaultTransformBaseURL
	}
	if c.Transform.TimeoutSeconds <= 0 {
		c.Transform.TimeoutSeconds = defaultTransformTimeoutSeconds
	}
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageBackendPinata
	}
	c.Storage.PinataURL = strings.TrimSpace(c.Storage.PinataURL)
	if c.Storage.PinataURL == "" {
		c.Storage.PinataURL = defaultPinataURL
	}
	c.Storage.PinataAPIKey = envOverride(c.Storage.PinataAPIKey, "PINATA_API_KEY")
	c.Storage.PinataAPISecret = envOverride(c.Storage.PinataAPISecret, "PINATA_API_SECRET")
	c.Storage.PinataJWT = envOverride(c.Storage.PinataJWT, "PINATA_JWT")
	if strings.TrimSpace(c.Storage.LocalDir) == "" {
		c.Storage.LocalDir = defaultLocalStoreDir
	}
	var err error
	if c.Storage.LocalDir, err = expandPath(c.Storage.LocalDir); err != nil {
		return fmt.Errorf("storage.local_dir: %w", err)
	}
	c.Storage.GatewayURL = strings.TrimRight(strings.TrimSpace(c.Storage.GatewayURL), "/")
	if c.Storage.GatewayURL == "" {
		c.Storage.GatewayURL = defaultGatewayURL
	}
	if c.Storage.TimeoutSeconds <= 0 {
		c.Storage.TimeoutSeconds = defaultStorageTimeoutSeconds
	}
	return nil
}

func (c *Config) normalizeLedger() {
	c.Ledger.RPCURL = envOverride(c.Ledger.RPCURL, "LEDGERMARK_RPC_URL")
	if c.Ledger.RPCURL == "" {
		c.Ledger.RPCURL = defaultLedgerRPCURL
	}
	c.Ledger.ContractAddress = envOverride(c.Ledger.ContractAddress, "LEDGERMARK_CONTRACT_ADDRESS")
	if c.Ledger.DeltaScale <= 0 {
		c.Ledger.DeltaScale = defaultDeltaScale
	}
	if c.Ledger.GasMarginPercent < 0 {
		c.Ledger.GasMarginPercent = 0
	}
	if c.Ledger.ReceiptTimeoutSeconds <= 0 {
		c.Ledger.ReceiptTimeoutSeconds = defaultReceiptTimeoutSeconds
	}
	if c.Ledger.ReceiptPollIntervalMS <= 0 {
		c.Ledger.ReceiptPollIntervalMS = defaultReceiptPollIntervalMS
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format == "" {
		format = defaultLogFormat
	}
	c.Logging.Format = format
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}

// envOverride returns the named environment variable when it is set and
// non-empty, otherwise the trimmed configured value.
func envOverride(value, envKey string) string {
	if env, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(env) != "" {
		return strings.TrimSpace(env)
	}
	return strings.TrimSpace(value)
}
