// Package subgraph fetches invoice facts and event logs from the
// indexing layer.
//
// The indexer is a read-only data source: it supplies the InvoiceCore
// facts plus the typed event history per invoice address. This package
// owns the wire format and error mapping only; all derivation happens
// in the invoice package.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/chainvoice/internal/circuitbreaker"
	"github.com/mbd888/chainvoice/internal/invoice"
	"github.com/mbd888/chainvoice/internal/metrics"
	"github.com/mbd888/chainvoice/internal/retry"
	"github.com/mbd888/chainvoice/internal/token"
)

var (
	// ErrNotFound means the indexer has never seen the invoice.
	ErrNotFound = errors.New("subgraph: invoice not found")
	// ErrUnavailable means the indexer is lagging or unreachable.
	// Callers retry with backoff; the error is propagated unchanged.
	ErrUnavailable = errors.New("subgraph: temporarily unavailable")
)

// Client queries one subgraph endpoint per chain.
//
// A per-chain circuit breaker fronts the endpoints: a chain whose
// indexer keeps failing is cut off for a cooldown window, and callers
// see ErrUnavailable immediately instead of waiting out retries.
type Client struct {
	endpoints map[int64]string // chainID -> URL
	http      *http.Client
	breaker   *circuitbreaker.Breaker

	maxAttempts int
	baseDelay   time.Duration
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRetry overrides the retry policy for transient indexer failures.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.maxAttempts = maxAttempts
		c.baseDelay = baseDelay
	}
}

// NewClient creates a subgraph client for the given chain endpoints.
func NewClient(endpoints map[int64]string, opts ...Option) *Client {
	c := &Client{
		endpoints:   endpoints,
		http:        &http.Client{Timeout: 10 * time.Second},
		breaker:     circuitbreaker.New(5, 30*time.Second),
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// invoiceQuery mirrors the invoice entity the indexer exposes: core
// facts plus every event category.
const invoiceQuery = `query($id: ID!) {
  invoice(id: $id) {
    id address token client provider invoiceType isLocked
    amounts total resolutionRate resolver resolverType
    startDate endDate terminationTime createdAt details
    projectName projectDescription
    projectAgreement { src }
    deposits { id txHash logIndex sender amount timestamp }
    releases { id txHash logIndex milestone amount timestamp }
    withdraws { id txHash logIndex amount timestamp }
    disputes { id txHash logIndex sender details timestamp }
    resolutions { id txHash logIndex clientAward providerAward resolutionFee resolverType timestamp }
    verified { id client }
  }
}`

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data struct {
		Invoice *invoiceRecord `json:"invoice"`
	} `json:"data"`
	Errors []gqlError `json:"errors"`
}

type invoiceRecord struct {
	ID                 string      `json:"id"`
	Address            string      `json:"address"`
	Token              string      `json:"token"`
	Client             string      `json:"client"`
	Provider           string      `json:"provider"`
	InvoiceType        string      `json:"invoiceType"`
	IsLocked           bool        `json:"isLocked"`
	Amounts            []string    `json:"amounts"`
	Total              string      `json:"total"`
	ResolutionRate     json.Number `json:"resolutionRate"`
	Resolver           string      `json:"resolver"`
	ResolverType       string      `json:"resolverType"`
	StartDate          json.Number `json:"startDate"`
	EndDate            json.Number `json:"endDate"`
	TerminationTime    json.Number `json:"terminationTime"`
	CreatedAt          json.Number `json:"createdAt"`
	Details            string      `json:"details"`
	ProjectName        string      `json:"projectName"`
	ProjectDescription string      `json:"projectDescription"`
	ProjectAgreement   []struct {
		Src string `json:"src"`
	} `json:"projectAgreement"`
	Deposits []eventRecord `json:"deposits"`
	Releases []eventRecord `json:"releases"`
	Withdraws []eventRecord `json:"withdraws"`
	Disputes []eventRecord `json:"disputes"`
	Resolutions []eventRecord `json:"resolutions"`
	Verified []struct {
		ID     string `json:"id"`
		Client string `json:"client"`
	} `json:"verified"`
}

type eventRecord struct {
	ID            string      `json:"id"`
	TxHash        string      `json:"txHash"`
	LogIndex      json.Number `json:"logIndex"`
	Sender        string      `json:"sender"`
	Amount        string      `json:"amount"`
	Milestone     json.Number `json:"milestone"`
	Details       string      `json:"details"`
	ClientAward   string      `json:"clientAward"`
	ProviderAward string      `json:"providerAward"`
	ResolutionFee string      `json:"resolutionFee"`
	ResolverType  string      `json:"resolverType"`
	Timestamp     json.Number `json:"timestamp"`
}

// FetchInvoice returns the invoice core facts and complete event log.
// ErrNotFound is permanent; transient indexer failures are retried with
// backoff before ErrUnavailable surfaces.
func (c *Client) FetchInvoice(ctx context.Context, chainID int64, address common.Address) (invoice.Core, []invoice.Event, error) {
	endpoint, ok := c.endpoints[chainID]
	if !ok {
		return invoice.Core{}, nil, fmt.Errorf("%w: no endpoint for chain %d", ErrNotFound, chainID)
	}

	key := fmt.Sprintf("chain-%d", chainID)
	if !c.breaker.Allow(key) {
		return invoice.Core{}, nil, fmt.Errorf("%w: circuit open for chain %d", ErrUnavailable, chainID)
	}

	var record *invoiceRecord
	err := retry.Do(ctx, c.maxAttempts, c.baseDelay, func() error {
		rec, err := c.query(ctx, endpoint, address)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return retry.Permanent(err)
			}
			return err
		}
		record = rec
		return nil
	})
	chainLabel := strconv.FormatInt(chainID, 10)
	if err != nil {
		metrics.IndexerRequestsTotal.WithLabelValues(chainLabel, "error").Inc()
		if errors.Is(err, ErrUnavailable) {
			c.breaker.RecordFailure(key)
		} else {
			// A definitive answer, even not-found, means the indexer is up.
			c.breaker.RecordSuccess(key)
		}
		return invoice.Core{}, nil, err
	}
	metrics.IndexerRequestsTotal.WithLabelValues(chainLabel, "ok").Inc()
	c.breaker.RecordSuccess(key)

	core, events, err := record.decode(chainID)
	if err != nil {
		return invoice.Core{}, nil, err
	}
	return core, events, nil
}

func (c *Client) query(ctx context.Context, endpoint string, address common.Address) (*invoiceRecord, error) {
	body, err := json.Marshal(gqlRequest{
		Query:     invoiceQuery,
		Variables: map[string]any{"id": strings.ToLower(address.Hex())},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: indexer returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var out gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, out.Errors[0].Message)
	}
	if out.Data.Invoice == nil {
		return nil, ErrNotFound
	}
	return out.Data.Invoice, nil
}

func (r *invoiceRecord) decode(chainID int64) (invoice.Core, []invoice.Event, error) {
	amounts := make([]*big.Int, len(r.Amounts))
	for i, s := range r.Amounts {
		v, err := parseBig(s)
		if err != nil {
			return invoice.Core{}, nil, fmt.Errorf("amounts[%d]: %w", i, err)
		}
		amounts[i] = v
	}
	total, err := parseBig(r.Total)
	if err != nil {
		return invoice.Core{}, nil, fmt.Errorf("total: %w", err)
	}

	kind := invoice.KindEscrow
	if strings.EqualFold(r.InvoiceType, "instant") {
		kind = invoice.KindInstant
	}

	var links []string
	for _, a := range r.ProjectAgreement {
		if a.Src != "" {
			links = append(links, a.Src)
		}
	}

	core := invoice.Core{
		Address:            common.HexToAddress(r.Address),
		Token:              common.HexToAddress(r.Token),
		ChainID:            chainID,
		Kind:               kind,
		Client:             common.HexToAddress(r.Client),
		Provider:           common.HexToAddress(r.Provider),
		Amounts:            amounts,
		Total:              total,
		Resolver:           common.HexToAddress(r.Resolver),
		ResolverType:       r.ResolverType,
		ResolutionRate:     numToInt64(r.ResolutionRate),
		StartDate:          numToInt64(r.StartDate),
		EndDate:            numToInt64(r.EndDate),
		TerminationTime:    numToInt64(r.TerminationTime),
		CreatedAt:          numToInt64(r.CreatedAt),
		IsLocked:           r.IsLocked,
		DetailsHash:        r.Details,
		ProjectName:        r.ProjectName,
		ProjectDescription: r.ProjectDescription,
		AgreementLinks:     links,
	}

	var events []invoice.Event
	appendAll := func(records []eventRecord, typ invoice.EventType) error {
		for _, rec := range records {
			e, err := rec.decode(typ)
			if err != nil {
				return err
			}
			events = append(events, e)
		}
		return nil
	}
	if err := appendAll(r.Deposits, invoice.EventDeposit); err != nil {
		return invoice.Core{}, nil, err
	}
	if err := appendAll(r.Releases, invoice.EventRelease); err != nil {
		return invoice.Core{}, nil, err
	}
	if err := appendAll(r.Withdraws, invoice.EventWithdraw); err != nil {
		return invoice.Core{}, nil, err
	}
	if err := appendAll(r.Disputes, invoice.EventLock); err != nil {
		return invoice.Core{}, nil, err
	}
	if err := appendAll(r.Resolutions, invoice.EventResolution); err != nil {
		return invoice.Core{}, nil, err
	}
	for _, v := range r.Verified {
		events = append(events, invoice.Event{
			ID:     v.ID,
			Type:   invoice.EventVerification,
			Client: common.HexToAddress(v.Client),
		})
	}

	return core, events, nil
}

func (r eventRecord) decode(typ invoice.EventType) (invoice.Event, error) {
	e := invoice.Event{
		ID:          r.ID,
		TxHash:      r.TxHash,
		Timestamp:   numToInt64(r.Timestamp),
		LogIndex:    uint(numToInt64(r.LogIndex)),
		Type:        typ,
		Milestone:   int(numToInt64(r.Milestone)),
		DetailsHash: r.Details,
		ResolverType: r.ResolverType,
	}
	if r.Sender != "" {
		e.Sender = common.HexToAddress(r.Sender)
	}

	var err error
	if e.Amount, err = parseBigOpt(r.Amount); err != nil {
		return invoice.Event{}, fmt.Errorf("event %s amount: %w", r.ID, err)
	}
	if e.ClientAward, err = parseBigOpt(r.ClientAward); err != nil {
		return invoice.Event{}, fmt.Errorf("event %s clientAward: %w", r.ID, err)
	}
	if e.ProviderAward, err = parseBigOpt(r.ProviderAward); err != nil {
		return invoice.Event{}, fmt.Errorf("event %s providerAward: %w", r.ID, err)
	}
	if e.ResolutionFee, err = parseBigOpt(r.ResolutionFee); err != nil {
		return invoice.Event{}, fmt.Errorf("event %s resolutionFee: %w", r.ID, err)
	}
	return e, nil
}

// parseBig decodes an indexer amount string. Malformed or negative
// values surface as token.ErrInvalidAmount so callers can reject the
// record instead of treating it as an internal failure.
func parseBig(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	a, err := token.ParseRaw(s, 0)
	if err != nil {
		return nil, err
	}
	return a.Raw(), nil
}

// parseBigOpt returns nil for absent values so event variants only
// carry the fields they own.
func parseBigOpt(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	return parseBig(s)
}

func numToInt64(n json.Number) int64 {
	if n == "" {
		return 0
	}
	v, err := n.Int64()
	if err != nil {
		return 0
	}
	return v
}
