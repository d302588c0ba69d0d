package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"ledgermark/internal/services"
	"ledgermark/internal/services/ledger"
)

type storedRecord struct {
	owner common.Address
	ipfs  string
	sha   string
	ts    int64
	delta int64
}

// fakeRegistry emulates the ContentRegistry view functions.
type fakeRegistry struct {
	records []storedRecord
	fail    error
}

func (f *fakeRegistry) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	parsed, err := ledger.RegistryABI()
	if err != nil {
		return nil, err
	}
	method, err := parsed.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "checkImageExists":
		for _, r := range f.records {
			if r.sha == args[0].(string) {
				return method.Outputs.Pack(true)
			}
		}
		return method.Outputs.Pack(false)
	case "contentCount":
		return method.Outputs.Pack(big.NewInt(int64(len(f.records))))
	case "getContent":
		id := args[0].(*big.Int).Int64()
		if id < 1 || id > int64(len(f.records)) {
			return nil, fmt.Errorf("execution reverted: invalid id")
		}
		r := f.records[id-1]
		return method.Outputs.Pack(r.owner, r.ipfs, r.sha, big.NewInt(r.ts), big.NewInt(r.delta))
	case "getUserContents":
		owner := args[0].(common.Address)
		ids := []*big.Int{}
		for i, r := range f.records {
			if r.owner == owner {
				ids = append(ids, big.NewInt(int64(i+1)))
			}
		}
		return method.Outputs.Pack(ids)
	}
	return nil, fmt.Errorf("unexpected method %s", method.Name)
}

func newFakeRegistry() *fakeRegistry {
	owner := common.HexToAddress(ownerHex)
	other := common.HexToAddress("0x3333333333333333333333333333333333333333")
	return &fakeRegistry{records: []storedRecord{
		{owner: owner, ipfs: "QmFirst", sha: "aaa", ts: 1700000000, delta: 775000},
		{owner: other, ipfs: "QmSecond", sha: "bbb", ts: 1700000100, delta: 500000},
		{owner: owner, ipfs: "QmThird", sha: "ccc", ts: 1700000200, delta: 775000},
	}}
}

func TestRegistryFindByFingerprint(t *testing.T) {
	registry := ledger.NewRegistry(newFakeRegistry(), common.HexToAddress(contractHex))

	record, found, err := registry.FindByFingerprint(context.Background(), "  BBB ")
	if err != nil {
		t.Fatalf("FindByFingerprint: %v", err)
	}
	if !found {
		t.Fatal("expected record to be found")
	}
	if record.ID.Int64() != 2 || record.IPFSHash != "QmSecond" || record.Timestamp.Unix() != 1700000100 {
		t.Fatalf("unexpected record %+v", record)
	}

	_, found, err = registry.FindByFingerprint(context.Background(), "zzz")
	if err != nil || found {
		t.Fatalf("expected not found, got %v %v", found, err)
	}
}

func TestRegistryOwnerRecords(t *testing.T) {
	registry := ledger.NewRegistry(newFakeRegistry(), common.HexToAddress(contractHex))

	records, err := registry.OwnerRecords(context.Background(), common.HexToAddress(ownerHex))
	if err != nil {
		t.Fatalf("OwnerRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].IPFSHash != "QmFirst" || records[1].IPFSHash != "QmThird" {
		t.Fatalf("unexpected records %+v", records)
	}
	if records[0].Delta.Int64() != 775000 {
		t.Fatalf("unexpected delta %v", records[0].Delta)
	}
}

func TestRegistryTransportFailure(t *testing.T) {
	registry := ledger.NewRegistry(&fakeRegistry{fail: errors.New("connection refused")}, common.HexToAddress(contractHex))
	_, err := registry.Exists(context.Background(), "aaa")
	if !errors.Is(err, services.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}
