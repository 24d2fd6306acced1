// Package ipfsmeta fetches content-addressed invoice documents from an
// IPFS gateway.
//
// The document carries display-only project details. Values found here
// override the corresponding on-chain defaults for display, but never
// any financial total.
package ipfsmeta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mbd888/chainvoice/internal/retry"
)

var ErrNotFound = errors.New("ipfsmeta: document not found")

// Details is the off-chain project document of an invoice.
type Details struct {
	ProjectName        string   `json:"projectName,omitempty"`
	ProjectDescription string   `json:"projectDescription,omitempty"`
	StartDate          int64    `json:"startDate,omitempty"`
	EndDate            int64    `json:"endDate,omitempty"`
	AgreementLinks     []string `json:"agreementLinks,omitempty"`
	KlerosCourt        int64    `json:"klerosCourt,omitempty"`
}

// document is the wire shape, tolerating both numeric and RFC 3339
// date forms that historical documents carry.
type document struct {
	ProjectName        string          `json:"projectName"`
	ProjectDescription string          `json:"projectDescription"`
	StartDate          json.RawMessage `json:"startDate"`
	EndDate            json.RawMessage `json:"endDate"`
	KlerosCourt        int64           `json:"klerosCourt"`
	ProjectAgreement   []struct {
		Src string `json:"src"`
	} `json:"projectAgreement"`
}

// Fetcher fetches invoice documents through one HTTP gateway.
type Fetcher struct {
	gateway string
	http    *http.Client

	maxAttempts int
	baseDelay   time.Duration
}

// NewFetcher creates a Fetcher for a gateway base URL, e.g.
// "https://ipfs.io".
func NewFetcher(gateway string) *Fetcher {
	return &Fetcher{
		gateway:     strings.TrimRight(gateway, "/"),
		http:        &http.Client{Timeout: 15 * time.Second},
		maxAttempts: 3,
		baseDelay:   time.Second,
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func (f *Fetcher) WithHTTPClient(h *http.Client) *Fetcher {
	f.http = h
	return f
}

// Fetch retrieves and decodes the document behind a content hash.
func (f *Fetcher) Fetch(ctx context.Context, cid string) (*Details, error) {
	if cid == "" {
		return nil, fmt.Errorf("%w: empty content hash", ErrNotFound)
	}

	var details *Details
	err := retry.Do(ctx, f.maxAttempts, f.baseDelay, func() error {
		d, err := f.fetchOnce(ctx, cid)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return retry.Permanent(err)
			}
			return err
		}
		details = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, cid string) (*Details, error) {
	url := f.gateway + "/ipfs/" + cid
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", cid, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, cid)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("gateway returned status %d for %s", resp.StatusCode, cid)
	}

	var doc document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, retry.Permanent(fmt.Errorf("decode document %s: %w", cid, err))
	}

	d := &Details{
		ProjectName:        doc.ProjectName,
		ProjectDescription: doc.ProjectDescription,
		StartDate:          parseDate(doc.StartDate),
		EndDate:            parseDate(doc.EndDate),
		KlerosCourt:        doc.KlerosCourt,
	}
	for _, a := range doc.ProjectAgreement {
		if a.Src != "" {
			d.AgreementLinks = append(d.AgreementLinks, a.Src)
		}
	}
	return d, nil
}

// parseDate accepts unix seconds or an RFC 3339 / date-only string.
func parseDate(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}

	var unix int64
	if err := json.Unmarshal(raw, &unix); err == nil {
		return unix
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return 0
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix()
		}
	}
	return 0
}
