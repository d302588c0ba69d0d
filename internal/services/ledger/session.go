package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"ledgermark/internal/services"
)

// userRejectedCode is the wallet error code for an explicit user decline.
const userRejectedCode = 4001

// CallArgs describes a contract call submitted through a SigningSession.
type CallArgs struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Gas   uint64
	Value *big.Int
}

// SigningSession supplies addresses and the ability to sign and submit a
// transaction. Send may block until the holder approves or declines.
type SigningSession interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	Accounts(ctx context.Context) ([]common.Address, error)
	EstimateFee(ctx context.Context, call CallArgs) (uint64, error)
	Send(ctx context.Context, call CallArgs) (common.Hash, error)
}

// RPCSession implements SigningSession against a JSON-RPC endpoint that
// manages keys itself (a wallet bridge or a node with unlocked accounts).
type RPCSession struct {
	rpc     *rpc.Client
	chainID *big.Int
}

// NewRPCSession wraps an established RPC client. chainID may be nil.
func NewRPCSession(client *rpc.Client, chainID *big.Int) *RPCSession {
	return &RPCSession{rpc: client, chainID: chainID}
}

type txArgs struct {
	From    common.Address  `json:"from"`
	To      *common.Address `json:"to,omitempty"`
	Gas     *hexutil.Uint64 `json:"gas,omitempty"`
	Value   *hexutil.Big    `json:"value,omitempty"`
	Data    hexutil.Bytes   `json:"data"`
	ChainID *hexutil.Big    `json:"chainId,omitempty"`
}

func (s *RPCSession) toArgs(call CallArgs, withGas bool) txArgs {
	to := call.To
	args := txArgs{From: call.From, To: &to, Data: call.Data}
	if call.Value != nil && call.Value.Sign() > 0 {
		args.Value = (*hexutil.Big)(call.Value)
	}
	if withGas && call.Gas > 0 {
		gas := hexutil.Uint64(call.Gas)
		args.Gas = &gas
	}
	if s.chainID != nil && s.chainID.Sign() > 0 {
		args.ChainID = (*hexutil.Big)(s.chainID)
	}
	return args
}

// RequestAccounts asks the holder to expose its accounts. Endpoints that do
// not implement eth_requestAccounts fall back to eth_accounts.
func (s *RPCSession) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	err := s.rpc.CallContext(ctx, &accounts, "eth_requestAccounts")
	if err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == -32601 {
			return s.Accounts(ctx)
		}
		return nil, classifyRPC(err, services.ErrSigningUnavailable, "request accounts")
	}
	return accounts, nil
}

// Accounts lists accounts already exposed by the holder.
func (s *RPCSession) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := s.rpc.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, classifyRPC(err, services.ErrSigningUnavailable, "list accounts")
	}
	return accounts, nil
}

// EstimateFee returns the gas required by call.
func (s *RPCSession) EstimateFee(ctx context.Context, call CallArgs) (uint64, error) {
	var gas hexutil.Uint64
	if err := s.rpc.CallContext(ctx, &gas, "eth_estimateGas", s.toArgs(call, false)); err != nil {
		return 0, classifyRPC(err, services.ErrSigningEstimation, "estimate fee")
	}
	return uint64(gas), nil
}

// Send signs and submits call, returning the transaction hash.
func (s *RPCSession) Send(ctx context.Context, call CallArgs) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, classifyRPC(err, services.ErrSigningSubmission, "send transaction")
	}
	var hash common.Hash
	if err := s.rpc.CallContext(ctx, &hash, "eth_sendTransaction", s.toArgs(call, true)); err != nil {
		if errors.Is(err, context.Canceled) {
			// the request was already handed to the wallet
			return common.Hash{}, services.Wrap(services.ErrSigningDeclined, "", "send transaction",
				"signing request cancelled after it reached the wallet; the wallet may still broadcast it",
				fmt.Errorf("%w: %w", services.ErrBroadcastPending, err))
		}
		return common.Hash{}, classifyRPC(err, services.ErrSigningSubmission, "send transaction")
	}
	if hash == (common.Hash{}) {
		return common.Hash{}, services.Wrap(services.ErrSigningSubmission, "", "send transaction", "endpoint returned an empty transaction hash", nil)
	}
	return hash, nil
}

// classifyRPC maps JSON-RPC failures onto the signing taxonomy. A JSON-RPC
// error response means the endpoint was reached; anything else is transport.
func classifyRPC(err error, marker error, operation string) error {
	if errors.Is(err, context.Canceled) {
		return services.Wrap(services.ErrSigningDeclined, "", operation, "signing request cancelled", err)
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		if rpcErr.ErrorCode() == userRejectedCode {
			return services.Wrap(services.ErrSigningDeclined, "", operation, "request rejected by the account holder", err)
		}
		message := strings.TrimSpace(rpcErr.Error())
		var dataErr rpc.DataError
		if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
			message = fmt.Sprintf("%s (%v)", message, dataErr.ErrorData())
		}
		return services.Wrap(marker, "", operation, message, err)
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return services.Wrap(marker, "", operation, fmt.Sprintf("endpoint responded %d", httpErr.StatusCode),
			&services.ServiceError{Service: "ledger rpc", StatusCode: httpErr.StatusCode, Message: strings.TrimSpace(string(httpErr.Body))})
	}
	return services.Wrap(marker, "", operation, "ledger endpoint unreachable", services.Transport("ledger", operation, err))
}
