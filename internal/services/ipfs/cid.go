package ipfs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

var (
	ErrInvalidCID  = errors.New("ipfs: invalid cid")
	ErrNotFound    = errors.New("ipfs: not found")
	ErrCIDMismatch = errors.New("ipfs: cid mismatch")
	ErrImmutable   = errors.New("ipfs: immutable object already exists")
)

// CIDFor returns the CIDv1 (raw codec, sha2-256) addressing data.
func CIDFor(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// ParseCID decodes a content identifier string. Both CIDv0 ("Qm...") and
// CIDv1 encodings are accepted.
func ParseCID(value string) (cid.Cid, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return cid.Undef, fmt.Errorf("%w: empty identifier", ErrInvalidCID)
	}
	id, err := cid.Decode(value)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %q: %v", ErrInvalidCID, value, err)
	}
	return id, nil
}

// GatewayURL returns the retrieval URL for a content identifier.
func GatewayURL(gateway, id string) string {
	gateway = strings.TrimRight(strings.TrimSpace(gateway), "/")
	if gateway == "" {
		gateway = DefaultGateway
	}
	return gateway + "/ipfs/" + strings.TrimSpace(id)
}
