package ledger

import (
	_ "embed"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed content_registry.abi.json
var contentRegistryABI string

const (
	methodRegister      = "registerContent"
	methodExists        = "checkImageExists"
	methodCount         = "contentCount"
	methodGetContent    = "getContent"
	methodOwnerContents = "getUserContents"
	eventRegistered     = "ContentRegistered"
)

var (
	registryABIOnce sync.Once
	registryABI     abi.ABI
	registryABIErr  error
)

// RegistryABI returns the parsed ContentRegistry ABI.
func RegistryABI() (abi.ABI, error) {
	registryABIOnce.Do(func() {
		registryABI, registryABIErr = abi.JSON(strings.NewReader(contentRegistryABI))
		if registryABIErr != nil {
			registryABIErr = fmt.Errorf("parse registry abi: %w", registryABIErr)
		}
	})
	return registryABI, registryABIErr
}

// PackRegister encodes a registerContent call.
func PackRegister(ipfsHash, sha256Hash string, delta *big.Int) ([]byte, error) {
	parsed, err := RegistryABI()
	if err != nil {
		return nil, err
	}
	if delta == nil || delta.Sign() < 0 {
		return nil, fmt.Errorf("pack %s: delta must be a non-negative integer", methodRegister)
	}
	return parsed.Pack(methodRegister, ipfsHash, sha256Hash, delta)
}
