package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTransform(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateLedger(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return ensurePositiveMap(map[string]int{
		"transform.timeout_seconds":       c.Transform.TimeoutSeconds,
		"storage.timeout_seconds":         c.Storage.TimeoutSeconds,
		"ledger.receipt_timeout_seconds":  c.Ledger.ReceiptTimeoutSeconds,
		"ledger.receipt_poll_interval_ms": c.Ledger.ReceiptPollIntervalMS,
		"notifications.request_timeout":   c.Notifications.RequestTimeout,
	})
}

func (c *Config) validateTransform() error {
	if err := validateURL("transform.base_url", c.Transform.BaseURL); err != nil {
		return err
	}
	if c.Transform.Delta <= 0 {
		return errors.New("transform.delta must be positive")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageBackendPinata:
		if err := validateURL("storage.pinata_url", c.Storage.PinataURL); err != nil {
			return err
		}
		if c.Storage.PinataJWT == "" && (c.Storage.PinataAPIKey == "") != (c.Storage.PinataAPISecret == "") {
			return errors.New("storage.pinata_api_key and storage.pinata_api_secret must be set together")
		}
	case StorageBackendLocal:
		if strings.TrimSpace(c.Storage.LocalDir) == "" {
			return errors.New("storage.local_dir must be set when storage.backend is local")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported (use %q or %q)", c.Storage.Backend, StorageBackendPinata, StorageBackendLocal)
	}
	return validateURL("storage.gateway_url", c.Storage.GatewayURL)
}

func (c *Config) validateLedger() error {
	if err := validateURL("ledger.rpc_url", c.Ledger.RPCURL); err != nil {
		return err
	}
	if c.Ledger.ContractAddress != "" && !common.IsHexAddress(c.Ledger.ContractAddress) {
		return fmt.Errorf("ledger.contract_address %q is not a valid address", c.Ledger.ContractAddress)
	}
	if c.Ledger.ChainID < 0 {
		return errors.New("ledger.chain_id must not be negative")
	}
	if c.Ledger.GasMarginPercent > 500 {
		return errors.New("ledger.gas_margin_percent must be at most 500")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (use console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	return nil
}

// RequireLedger reports whether the registry contract is configured. Commands
// that only talk to the transform service can run without it.
func (c *Config) RequireLedger() error {
	if c.Ledger.ContractAddress == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("ledger.contract_address is required. Set LEDGERMARK_CONTRACT_ADDRESS or edit %s (create with 'ledgermark config init')", defaultPath)
	}
	return nil
}

func validateURL(field, value string) error {
	parsed, err := url.Parse(value)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%s %q must be an absolute URL", field, value)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
