// Package chain reads token metadata and live balances over an
// Ethereum RPC connection.
//
// Token metadata (name, symbol, decimals) is immutable per deployment,
// so lookups are cached in-process per (chain, token). Balances are
// always live reads; native and token balances are two independent
// queries.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/mbd888/chainvoice/internal/invoice"
	"github.com/mbd888/chainvoice/internal/metrics"
)

var (
	ErrRPCConnection      = errors.New("chain: RPC connection failed")
	ErrMissingTokenMetadata = errors.New("chain: token metadata unavailable")
)

const erc20ABI = `[
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// Instant invoice contracts expose their payment terms as view getters.
const instantABI = `[
	{"constant":true,"inputs":[],"name":"total","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"totalFulfilled","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"deadline","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"lateFee","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"lateFeeTimeInterval","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// EthClient is the minimal RPC surface this package needs.
type EthClient interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

type metaKey struct {
	chainID int64
	token   common.Address
}

// Reader serves token metadata and balances for one or more chains.
type Reader struct {
	clients map[int64]EthClient
	erc20   abi.ABI
	instant abi.ABI

	mu        sync.RWMutex
	metaCache map[metaKey]*invoice.TokenMetadata
}

// NewReader builds a Reader over pre-connected clients, keyed by chain id.
func NewReader(clients map[int64]EthClient) (*Reader, error) {
	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse ERC20 ABI: %w", err)
	}
	instant, err := abi.JSON(strings.NewReader(instantABI))
	if err != nil {
		return nil, fmt.Errorf("parse instant ABI: %w", err)
	}
	return &Reader{
		clients:   clients,
		erc20:     erc20,
		instant:   instant,
		metaCache: make(map[metaKey]*invoice.TokenMetadata),
	}, nil
}

// Dial connects to the given RPC endpoints and builds a Reader.
func Dial(rpcURLs map[int64]string) (*Reader, error) {
	clients := make(map[int64]EthClient, len(rpcURLs))
	for chainID, url := range rpcURLs {
		client, err := ethclient.Dial(url)
		if err != nil {
			return nil, fmt.Errorf("%w: chain %d: %v", ErrRPCConnection, chainID, err)
		}
		clients[chainID] = client
	}
	return NewReader(clients)
}

func (r *Reader) client(chainID int64) (EthClient, error) {
	c, ok := r.clients[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: no client for chain %d", ErrRPCConnection, chainID)
	}
	return c, nil
}

// TokenMetadata returns the ERC-20 name, symbol and decimals for a
// token, cached after the first successful read.
func (r *Reader) TokenMetadata(ctx context.Context, chainID int64, token common.Address) (*invoice.TokenMetadata, error) {
	key := metaKey{chainID, token}

	r.mu.RLock()
	cached, ok := r.metaCache[key]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	client, err := r.client(chainID)
	if err != nil {
		return nil, err
	}

	meta := &invoice.TokenMetadata{Address: token}

	var decimals uint8
	if err := r.call(ctx, chainID, client, r.erc20, token, "decimals", &decimals); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingTokenMetadata, err)
	}
	meta.Decimals = decimals

	// Name and symbol are cosmetic; tokens without them still work.
	_ = r.call(ctx, chainID, client, r.erc20, token, "symbol", &meta.Symbol)
	_ = r.call(ctx, chainID, client, r.erc20, token, "name", &meta.Name)

	r.mu.Lock()
	r.metaCache[key] = meta
	r.mu.Unlock()

	return meta, nil
}

// TokenBalance returns the ERC-20 balance of an address.
func (r *Reader) TokenBalance(ctx context.Context, chainID int64, token, owner common.Address) (*invoice.Balance, error) {
	client, err := r.client(chainID)
	if err != nil {
		return nil, err
	}

	var balance *big.Int
	if err := r.call(ctx, chainID, client, r.erc20, token, "balanceOf", &balance, owner); err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", owner.Hex(), err)
	}

	bal := &invoice.Balance{Value: balance}
	if meta, err := r.TokenMetadata(ctx, chainID, token); err == nil {
		bal.Decimals = meta.Decimals
		bal.Symbol = meta.Symbol
	}
	return bal, nil
}

// NativeBalance returns the chain-native balance of an address.
func (r *Reader) NativeBalance(ctx context.Context, chainID int64, owner common.Address) (*invoice.Balance, error) {
	client, err := r.client(chainID)
	if err != nil {
		return nil, err
	}
	value, err := client.BalanceAt(ctx, owner, nil)
	if err != nil {
		metrics.ChainCallsTotal.WithLabelValues(strconv.FormatInt(chainID, 10), "error").Inc()
		return nil, fmt.Errorf("native balance %s: %w", owner.Hex(), err)
	}
	metrics.ChainCallsTotal.WithLabelValues(strconv.FormatInt(chainID, 10), "ok").Inc()
	return &invoice.Balance{Value: value, Decimals: 18, Symbol: "ETH"}, nil
}

// InstantParams reads an instant invoice's payment terms from its
// contract. Terms are read live: totalFulfilled moves with every
// tip or partial payment.
func (r *Reader) InstantParams(ctx context.Context, chainID int64, addr common.Address) (*invoice.InstantParams, error) {
	client, err := r.client(chainID)
	if err != nil {
		return nil, err
	}

	var total, fulfilled, deadline, lateFee, interval *big.Int
	reads := []struct {
		method string
		out    **big.Int
	}{
		{"total", &total},
		{"totalFulfilled", &fulfilled},
		{"deadline", &deadline},
		{"lateFee", &lateFee},
		{"lateFeeTimeInterval", &interval},
	}
	for _, rd := range reads {
		if err := r.call(ctx, chainID, client, r.instant, addr, rd.method, rd.out); err != nil {
			return nil, fmt.Errorf("instant %s: %w", rd.method, err)
		}
	}

	return &invoice.InstantParams{
		TotalDue:        total,
		AmountFulfilled: fulfilled,
		Deadline:        deadline.Int64(),
		LateFee:         lateFee,
		LateFeeInterval: interval.Int64(),
	}, nil
}

// call packs, executes and unpacks a single read-only contract call.
func (r *Reader) call(ctx context.Context, chainID int64, client EthClient, contractABI abi.ABI, contract common.Address, method string, out any, args ...any) error {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}

	result, err := client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		metrics.ChainCallsTotal.WithLabelValues(strconv.FormatInt(chainID, 10), "error").Inc()
		return fmt.Errorf("call %s: %w", method, err)
	}
	metrics.ChainCallsTotal.WithLabelValues(strconv.FormatInt(chainID, 10), "ok").Inc()

	if err := contractABI.UnpackIntoInterface(out, method, result); err != nil {
		return fmt.Errorf("unpack %s: %w", method, err)
	}
	return nil
}
