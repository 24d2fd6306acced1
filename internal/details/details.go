// Package details composes invoice snapshots from the event source,
// the chain, and off-chain metadata.
//
// The service owns all caching policy. The computation itself is pure
// and lives in internal/invoice; this layer fetches inputs, memoizes
// results per (chain, invoice, last event), and falls back to the most
// recent snapshot when the indexer is unavailable.
package details

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/chainvoice/internal/history"
	"github.com/mbd888/chainvoice/internal/invoice"
	"github.com/mbd888/chainvoice/internal/ipfsmeta"
	"github.com/mbd888/chainvoice/internal/metrics"
	"github.com/mbd888/chainvoice/internal/resolver"
	"github.com/mbd888/chainvoice/internal/subgraph"
	"github.com/mbd888/chainvoice/internal/syncutil"
	"github.com/mbd888/chainvoice/internal/traces"
)

// Indexer fetches an invoice's core facts and full event log.
type Indexer interface {
	FetchInvoice(ctx context.Context, chainID int64, address common.Address) (invoice.Core, []invoice.Event, error)
}

// ChainReader reads token metadata, balances, and instant terms.
type ChainReader interface {
	TokenMetadata(ctx context.Context, chainID int64, token common.Address) (*invoice.TokenMetadata, error)
	TokenBalance(ctx context.Context, chainID int64, token, owner common.Address) (*invoice.Balance, error)
	NativeBalance(ctx context.Context, chainID int64, owner common.Address) (*invoice.Balance, error)
	InstantParams(ctx context.Context, chainID int64, addr common.Address) (*invoice.InstantParams, error)
}

// MetaFetcher fetches the off-chain project document.
type MetaFetcher interface {
	Fetch(ctx context.Context, cid string) (*ipfsmeta.Details, error)
}

// Snapshot is a computed invoice state plus resolver presentation data.
type Snapshot struct {
	*invoice.Details
	ResolverInfo resolver.Metadata `json:"resolverInfo"`
}

type memoEntry struct {
	lastEventID string
	snap        *Snapshot
}

// Service builds and caches invoice snapshots.
type Service struct {
	indexer   Indexer
	chain     ChainReader
	meta      MetaFetcher // optional
	resolvers *resolver.Registry
	store     history.Store
	logger    *slog.Logger
	now       func() int64

	mu   sync.Mutex
	memo map[history.Ref]memoEntry

	// flight serializes computation per invoice so concurrent requests
	// for the same invoice don't each refetch and recompute.
	flight *syncutil.KeyedMutex
}

// NewService wires a snapshot service. meta may be nil to skip
// off-chain document lookups.
func NewService(indexer Indexer, chain ChainReader, meta MetaFetcher, resolvers *resolver.Registry, store history.Store, logger *slog.Logger) *Service {
	if resolvers == nil {
		resolvers = resolver.NewRegistry()
	}
	if store == nil {
		store = history.NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		indexer:   indexer,
		chain:     chain,
		meta:      meta,
		resolvers: resolvers,
		store:     store,
		logger:    logger,
		now:       func() int64 { return time.Now().Unix() },
		memo:      make(map[history.Ref]memoEntry),
		flight:    syncutil.NewKeyedMutex(),
	}
}

// Get returns the current snapshot for an invoice, recomputing only
// when the event log has grown since the last computation.
//
// When the indexer is unavailable and a previous snapshot exists, that
// snapshot is served as-is; its ComputedAt timestamp tells the caller
// how stale it is.
func (s *Service) Get(ctx context.Context, chainID int64, address common.Address) (*Snapshot, error) {
	ctx, span := traces.StartSpan(ctx, "details.Get",
		traces.ChainID(chainID),
		traces.InvoiceAddr(address.Hex()),
	)
	defer span.End()

	ref := history.Ref{ChainID: chainID, Address: address.Hex()}

	unlock, err := s.flight.Lock(ctx, flightKey(ref))
	if err != nil {
		return nil, err
	}
	defer unlock()

	core, events, err := s.indexer.FetchInvoice(ctx, chainID, address)
	if err != nil {
		if errors.Is(err, subgraph.ErrUnavailable) {
			if snap, ok := s.lastSnapshot(ref); ok {
				s.logger.Warn("indexer unavailable, serving last snapshot",
					"chain_id", chainID, "invoice", ref.Address, "computed_at", snap.ComputedAt)
				metrics.SnapshotCacheTotal.WithLabelValues("stale").Inc()
				return snap, nil
			}
			// Nothing memoized (fresh process). The persisted log is
			// the fallback of last resort: rebuild from it.
			if snap, ok := s.replayStored(ctx, ref); ok {
				metrics.SnapshotCacheTotal.WithLabelValues("stale").Inc()
				return snap, nil
			}
		}
		metrics.SnapshotsComputedTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	lastID := lastEventID(events)
	if snap, ok := s.memoized(ref, lastID); ok {
		span.SetAttributes(traces.CacheOutcome("hit"))
		metrics.SnapshotCacheTotal.WithLabelValues("hit").Inc()
		return snap, nil
	}
	span.SetAttributes(traces.CacheOutcome("miss"), traces.EventCount(len(events)))
	metrics.SnapshotCacheTotal.WithLabelValues("miss").Inc()

	snap, err := s.compute(ctx, ref, core, events)
	if err != nil {
		metrics.SnapshotsComputedTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.SnapshotsComputedTotal.WithLabelValues("ok").Inc()

	s.mu.Lock()
	s.memo[ref] = memoEntry{lastEventID: lastID, snap: snap}
	s.mu.Unlock()

	if err := s.store.SaveLog(ctx, ref, core, events); err != nil {
		// The store is a cache; a write failure degrades the outage
		// fallback and watcher freshness but not this response.
		s.logger.Warn("save event log failed", "invoice", ref.Address, "error", err)
	}

	return snap, nil
}

// Refresh drops any cached state for the invoice and recomputes.
func (s *Service) Refresh(ctx context.Context, chainID int64, address common.Address) (*Snapshot, error) {
	s.Invalidate(chainID, address)
	return s.Get(ctx, chainID, address)
}

// Invalidate forgets the memoized snapshot for one invoice.
func (s *Service) Invalidate(chainID int64, address common.Address) {
	ref := history.Ref{ChainID: chainID, Address: address.Hex()}
	s.mu.Lock()
	delete(s.memo, ref)
	s.mu.Unlock()
}

// Track registers an invoice with the history store so the watcher
// polls it even before its first snapshot.
func (s *Service) Track(ctx context.Context, chainID int64, address common.Address) error {
	return s.store.Track(ctx, history.Ref{ChainID: chainID, Address: address.Hex()})
}

func (s *Service) compute(ctx context.Context, ref history.Ref, core invoice.Core, events []invoice.Event) (*Snapshot, error) {
	timer := prometheus.NewTimer(metrics.SnapshotDuration)
	defer timer.ObserveDuration()

	// Balances and metadata are enrichments. Each degrades
	// independently; the snapshot marks what is missing.
	meta, err := s.chain.TokenMetadata(ctx, ref.ChainID, core.Token)
	if err != nil {
		s.logger.Warn("token metadata unavailable", "token", core.Token.Hex(), "error", err)
		meta = nil
	}

	tokenBalance, err := s.chain.TokenBalance(ctx, ref.ChainID, core.Token, core.Address)
	if err != nil {
		s.logger.Warn("token balance unavailable", "invoice", ref.Address, "error", err)
		tokenBalance = nil
	}

	nativeBalance, err := s.chain.NativeBalance(ctx, ref.ChainID, core.Address)
	if err != nil {
		s.logger.Warn("native balance unavailable", "invoice", ref.Address, "error", err)
		nativeBalance = nil
	}

	var instant *invoice.InstantParams
	if core.Kind == invoice.KindInstant {
		instant, err = s.chain.InstantParams(ctx, ref.ChainID, core.Address)
		if err != nil {
			s.logger.Warn("instant terms unavailable", "invoice", ref.Address, "error", err)
			instant = nil
		}
	}

	s.applyDocumentOverrides(ctx, &core)

	d, err := invoice.Assemble(core, events, meta, tokenBalance, nativeBalance, instant, s.now())
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Details:      d,
		ResolverInfo: s.resolvers.Lookup(ref.ChainID, core.Resolver),
	}, nil
}

// applyDocumentOverrides merges the off-chain project document into
// the core's display fields. Financial fields are never touched.
func (s *Service) applyDocumentOverrides(ctx context.Context, core *invoice.Core) {
	if s.meta == nil || core.DetailsHash == "" {
		return
	}
	doc, err := s.meta.Fetch(ctx, core.DetailsHash)
	if err != nil {
		s.logger.Warn("project document unavailable", "hash", core.DetailsHash, "error", err)
		return
	}
	if doc.ProjectName != "" {
		core.ProjectName = doc.ProjectName
	}
	if doc.ProjectDescription != "" {
		core.ProjectDescription = doc.ProjectDescription
	}
	if len(doc.AgreementLinks) > 0 {
		core.AgreementLinks = doc.AgreementLinks
	}
	if doc.StartDate > 0 {
		core.StartDate = doc.StartDate
	}
	if doc.EndDate > 0 {
		core.EndDate = doc.EndDate
	}
}

func (s *Service) memoized(ref history.Ref, lastEventID string) (*Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.memo[ref]
	if !ok || entry.lastEventID != lastEventID {
		return nil, false
	}
	return entry.snap, true
}

// replayStored rebuilds a snapshot from the persisted event log, for
// outages that outlive the process. The log is as fresh as the last
// successful fetch; balances and metadata are still read live.
func (s *Service) replayStored(ctx context.Context, ref history.Ref) (*Snapshot, bool) {
	core, events, err := s.store.Log(ctx, ref)
	if err != nil {
		if !errors.Is(err, history.ErrNotTracked) {
			s.logger.Warn("stored event log unavailable", "invoice", ref.Address, "error", err)
		}
		return nil, false
	}

	snap, err := s.compute(ctx, ref, core, events)
	if err != nil {
		s.logger.Warn("replay from stored event log failed", "invoice", ref.Address, "error", err)
		return nil, false
	}
	s.logger.Warn("indexer unavailable, serving snapshot from stored event log",
		"chain_id", ref.ChainID, "invoice", ref.Address)

	s.mu.Lock()
	s.memo[ref] = memoEntry{lastEventID: lastEventID(events), snap: snap}
	s.mu.Unlock()
	return snap, true
}

// lastSnapshot returns the memoized snapshot regardless of event
// cursor, for indexer-outage fallback.
func (s *Service) lastSnapshot(ref history.Ref) (*Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.memo[ref]
	if !ok {
		return nil, false
	}
	return entry.snap, true
}

// flightKey includes the chain so the same invoice address on two
// chains never shares a lock.
func flightKey(ref history.Ref) string {
	return strconv.FormatInt(ref.ChainID, 10) + "/" + ref.Address
}

// lastEventID identifies the newest event by log order, not arrival
// order. Empty for an empty log.
func lastEventID(events []invoice.Event) string {
	if len(events) == 0 {
		return ""
	}
	last := events[0]
	for _, e := range events[1:] {
		if e.Timestamp > last.Timestamp ||
			(e.Timestamp == last.Timestamp && e.LogIndex > last.LogIndex) {
			last = e
		}
	}
	return last.ID
}
