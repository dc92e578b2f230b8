package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// readerABI covers the two read-only token calls the engine needs. The
// engine never writes to the chain; submission belongs to the facilitator.
const readerABI = `[
	{"type":"function","name":"DOMAIN_SEPARATOR","stateMutability":"view","inputs":[],"outputs":[{"type":"bytes32"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"type":"uint256"}]}
]`

// Reader reads balances and signing domains from an EVM network over an
// ethclient connection. It satisfies the engine's NetworkReader interface.
type Reader struct {
	client *ethclient.Client
	abi    abi.ABI
}

// NewReader dials an RPC endpoint and returns a network reader.
func NewReader(ctx context.Context, rpcURL string) (*Reader, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc: %w", err)
	}
	return NewReaderWithClient(client)
}

// NewReaderWithClient wraps an existing ethclient connection.
func NewReaderWithClient(client *ethclient.Client) (*Reader, error) {
	parsed, err := abi.JSON(strings.NewReader(readerABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse reader ABI: %w", err)
	}
	return &Reader{client: client, abi: parsed}, nil
}

// Close releases the underlying RPC connection.
func (r *Reader) Close() {
	r.client.Close()
}

// DomainSeparator reads the token contract's published EIP-712 domain
// separator.
func (r *Reader) DomainSeparator(ctx context.Context, tokenContract string) ([32]byte, error) {
	var sep [32]byte
	out, err := r.call(ctx, tokenContract, "DOMAIN_SEPARATOR")
	if err != nil {
		return sep, err
	}
	raw, ok := out.([32]byte)
	if !ok {
		return sep, fmt.Errorf("unexpected DOMAIN_SEPARATOR result type %T", out)
	}
	return raw, nil
}

// TokenBalance reads the holder's ERC-20 balance in minor units.
func (r *Reader) TokenBalance(ctx context.Context, tokenContract, holder string) (*big.Int, error) {
	out, err := r.call(ctx, tokenContract, "balanceOf", common.HexToAddress(holder))
	if err != nil {
		return nil, err
	}
	balance, ok := out.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", out)
	}
	return balance, nil
}

// NativeBalance reads the holder's native-gas balance at the latest block.
func (r *Reader) NativeBalance(ctx context.Context, holder string) (*big.Int, error) {
	balance, err := r.client.BalanceAt(ctx, common.HexToAddress(holder), nil)
	if err != nil {
		return nil, fmt.Errorf("native balance read failed: %w", err)
	}
	return balance, nil
}

func (r *Reader) call(ctx context.Context, contract, method string, args ...interface{}) (interface{}, error) {
	data, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	addr := common.HexToAddress(contract)
	result, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}

	outputs, err := r.abi.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("%s returned %d outputs, want 1", method, len(outputs))
	}
	return outputs[0], nil
}
