package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"ledgermark/internal/services"
)

// Record is a registration as stored by the ContentRegistry contract.
type Record struct {
	ID         *big.Int
	Owner      common.Address
	IPFSHash   string
	SHA256Hash string
	Timestamp  time.Time
	Delta      *big.Int
}

// Registry performs read-only ContentRegistry lookups.
type Registry struct {
	caller   ethereum.ContractCaller
	contract common.Address
}

// NewRegistry binds caller to the registry deployed at contract.
func NewRegistry(caller ethereum.ContractCaller, contract common.Address) *Registry {
	return &Registry{caller: caller, contract: contract}
}

func (r *Registry) call(ctx context.Context, method string, args ...any) ([]any, error) {
	parsed, err := RegistryABI()
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("registry %s: pack: %w", method, err)
	}
	contract := r.contract
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, services.Transport("registry", method, err)
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, &services.ServiceError{Service: "registry", Message: fmt.Sprintf("%s returned undecodable data: %v", method, err)}
	}
	return values, nil
}

// Exists reports whether a fingerprint has been registered.
func (r *Registry) Exists(ctx context.Context, sha256Hash string) (bool, error) {
	values, err := r.call(ctx, methodExists, normalizeFingerprint(sha256Hash))
	if err != nil {
		return false, err
	}
	exists, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("registry %s: unexpected result %T", methodExists, values[0])
	}
	return exists, nil
}

// Count returns the number of registrations.
func (r *Registry) Count(ctx context.Context) (*big.Int, error) {
	values, err := r.call(ctx, methodCount)
	if err != nil {
		return nil, err
	}
	count, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("registry %s: unexpected result %T", methodCount, values[0])
	}
	return count, nil
}

// Content fetches the registration with the given id.
func (r *Registry) Content(ctx context.Context, id *big.Int) (Record, error) {
	values, err := r.call(ctx, methodGetContent, id)
	if err != nil {
		return Record{}, err
	}
	if len(values) != 5 {
		return Record{}, fmt.Errorf("registry %s: expected 5 values, got %d", methodGetContent, len(values))
	}
	owner, _ := values[0].(common.Address)
	ipfsHash, _ := values[1].(string)
	sha, _ := values[2].(string)
	ts, _ := values[3].(*big.Int)
	delta, _ := values[4].(*big.Int)
	record := Record{
		ID:         new(big.Int).Set(id),
		Owner:      owner,
		IPFSHash:   ipfsHash,
		SHA256Hash: sha,
		Delta:      delta,
	}
	if ts != nil {
		record.Timestamp = time.Unix(ts.Int64(), 0).UTC()
	}
	return record, nil
}

// OwnerContents lists the registration ids held by owner.
func (r *Registry) OwnerContents(ctx context.Context, owner common.Address) ([]*big.Int, error) {
	values, err := r.call(ctx, methodOwnerContents, owner)
	if err != nil {
		return nil, err
	}
	ids, ok := values[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("registry %s: unexpected result %T", methodOwnerContents, values[0])
	}
	return ids, nil
}

// OwnerRecords resolves every registration held by owner.
func (r *Registry) OwnerRecords(ctx context.Context, owner common.Address) ([]Record, error) {
	ids, err := r.OwnerContents(ctx, owner)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		record, err := r.Content(ctx, id)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// FindByFingerprint locates the registration for sha256Hash. The contract
// has no reverse index, so ids are scanned from 1 after an existence check.
func (r *Registry) FindByFingerprint(ctx context.Context, sha256Hash string) (Record, bool, error) {
	sha256Hash = normalizeFingerprint(sha256Hash)
	exists, err := r.Exists(ctx, sha256Hash)
	if err != nil || !exists {
		return Record{}, false, err
	}
	count, err := r.Count(ctx)
	if err != nil {
		return Record{}, false, err
	}
	one := big.NewInt(1)
	for id := big.NewInt(1); id.Cmp(count) <= 0; id = new(big.Int).Add(id, one) {
		if err := ctx.Err(); err != nil {
			return Record{}, false, err
		}
		record, err := r.Content(ctx, id)
		if err != nil {
			return Record{}, false, err
		}
		if strings.EqualFold(record.SHA256Hash, sha256Hash) {
			return record, true, nil
		}
	}
	return Record{}, false, nil
}

func normalizeFingerprint(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
