// Package watcher monitors the blockchain for invoice activity.
//
// Invoices never push state anywhere; the watcher polls for logs that
// touch tracked invoice addresses and triggers a recompute through its
// notify callback. Detection is deliberately coarse: any log emitted
// by the invoice contract, or any token transfer into it, counts as
// activity.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mbd888/chainvoice/internal/history"
	"github.com/mbd888/chainvoice/internal/metrics"
)

// ERC20 Transfer event signature
var transferEventSig = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// LogSource is the chain surface the watcher polls.
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Tracker lists the invoices to watch.
type Tracker interface {
	Tracked(ctx context.Context) ([]history.Ref, error)
}

// NotifyFunc is called once per invoice that saw activity.
type NotifyFunc func(ctx context.Context, chainID int64, address common.Address)

// Config for the invoice watcher
type Config struct {
	PollInterval time.Duration
	StartBlocks  map[int64]uint64 // per chain; 0 or absent = latest
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		PollInterval: 30 * time.Second,
	}
}

// Watcher polls one or more chains for invoice activity.
type Watcher struct {
	clients map[int64]LogSource
	config  Config
	tracker Tracker
	notify  NotifyFunc
	logger  *slog.Logger

	// Last processed block per chain
	lastBlock map[int64]uint64

	// Shutdown
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// New creates a watcher over pre-connected log sources, keyed by chain id.
func New(cfg Config, clients map[int64]LogSource, tracker Tracker, notify NotifyFunc, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		clients:   clients,
		config:    cfg,
		tracker:   tracker,
		notify:    notify,
		logger:    logger,
		lastBlock: make(map[int64]uint64),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Dial connects to the given RPC endpoints and builds a watcher.
func Dial(cfg Config, rpcURLs map[int64]string, tracker Tracker, notify NotifyFunc, logger *slog.Logger) (*Watcher, error) {
	clients := make(map[int64]LogSource, len(rpcURLs))
	for chainID, url := range rpcURLs {
		client, err := ethclient.Dial(url)
		if err != nil {
			return nil, fmt.Errorf("connect to RPC for chain %d: %w", chainID, err)
		}
		clients[chainID] = client
	}
	return New(cfg, clients, tracker, notify, logger), nil
}

// Start begins polling
func (w *Watcher) Start(ctx context.Context) error {
	for chainID, client := range w.clients {
		start := w.config.StartBlocks[chainID]
		if start == 0 {
			block, err := client.BlockNumber(ctx)
			if err != nil {
				return fmt.Errorf("get block number for chain %d: %w", chainID, err)
			}
			start = block
		}
		w.lastBlock[chainID] = start
		w.logger.Info("invoice watcher started", "chain_id", chainID, "start_block", start)
	}

	w.started = true
	go w.pollLoop(ctx)
	return nil
}

// Stop stops the watcher. Safe to call after a failed Start: the poll
// loop only exists once Start succeeded, so done is awaited only then.
func (w *Watcher) Stop() {
	close(w.stop)
	if w.started {
		<-w.done
	}
}

func (w *Watcher) pollLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.checkAll(ctx)
		}
	}
}

func (w *Watcher) checkAll(ctx context.Context) {
	refs, err := w.tracker.Tracked(ctx)
	if err != nil {
		w.logger.Error("list tracked invoices failed", "error", err)
		return
	}

	byChain := make(map[int64][]common.Address)
	for _, ref := range refs {
		byChain[ref.ChainID] = append(byChain[ref.ChainID], common.HexToAddress(ref.Address))
	}

	for chainID := range w.clients {
		if err := w.checkChain(ctx, chainID, byChain[chainID]); err != nil {
			w.logger.Error("invoice activity check failed", "chain_id", chainID, "error", err)
		}
	}
}

func (w *Watcher) checkChain(ctx context.Context, chainID int64, invoices []common.Address) error {
	client := w.clients[chainID]

	currentBlock, err := client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("get block number: %w", err)
	}

	last := w.lastBlock[chainID]
	if currentBlock <= last || len(invoices) == 0 {
		// Advance past empty ranges so a later Track doesn't replay them.
		w.lastBlock[chainID] = currentBlock
		return nil
	}

	fromBlock := big.NewInt(int64(last + 1))
	toBlock := big.NewInt(int64(currentBlock))

	// Logs emitted by the invoice contracts themselves: deposits,
	// releases, locks, resolutions.
	emitted, err := client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Addresses: invoices,
	})
	if err != nil {
		return fmt.Errorf("filter invoice logs: %w", err)
	}

	// Token transfers into an invoice arrive as logs on the token
	// contract, with the invoice in the `to` topic.
	toTopics := make([]common.Hash, len(invoices))
	for i, addr := range invoices {
		toTopics[i] = common.BytesToHash(addr.Bytes())
	}
	transfers, err := client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Topics: [][]common.Hash{
			{transferEventSig},
			nil, // any sender
			toTopics,
		},
	})
	if err != nil {
		return fmt.Errorf("filter transfer logs: %w", err)
	}

	touched := make(map[common.Address]bool)
	for _, vLog := range emitted {
		touched[vLog.Address] = true
	}
	for _, vLog := range transfers {
		if len(vLog.Topics) < 3 {
			continue
		}
		touched[common.BytesToAddress(vLog.Topics[2].Bytes())] = true
	}

	for addr := range touched {
		w.logger.Info("invoice activity detected", "chain_id", chainID, "invoice", addr.Hex())
		metrics.WatcherRefreshesTotal.Inc()
		w.notify(ctx, chainID, addr)
	}

	w.lastBlock[chainID] = currentBlock
	return nil
}
