// Package invoice derives the full financial and lifecycle state of an
// on-chain escrow invoice from its immutable event history.
//
// The package is a pure computation layer: it performs no I/O, keeps no
// state between calls, and recomputes every snapshot from the complete
// event log. Callers fetch events, token metadata and balances, hand
// them to Assemble, and get back one immutable Details value.
//
// Two invoice kinds share the engine:
//   - escrow: milestone-based, funds release incrementally per milestone
//   - instant: single lump sum with a deadline and late-fee accrual
package invoice

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Kind distinguishes the two invoice flavors.
type Kind string

const (
	KindEscrow  Kind = "escrow"
	KindInstant Kind = "instant"
)

// Core holds the immutable facts about an invoice as reported by the
// event source. It is constructed once per query and never mutated.
type Core struct {
	Address        common.Address `json:"address"`
	Token          common.Address `json:"token"`
	ChainID        int64          `json:"chainId"`
	Kind           Kind           `json:"kind"`
	Client         common.Address `json:"client"`
	Provider       common.Address `json:"provider"`
	Amounts        []*big.Int     `json:"amounts"` // milestone schedule, empty for instant
	Total          *big.Int       `json:"total"`
	Resolver       common.Address `json:"resolver"`
	ResolverType   string         `json:"resolverType"`
	ResolutionRate int64          `json:"resolutionRate"` // basis points
	StartDate      int64          `json:"startDate"`
	EndDate        int64          `json:"endDate"`
	TerminationTime int64         `json:"terminationTime"`
	CreatedAt      int64          `json:"createdAt"`
	IsLocked       bool           `json:"isLocked"`
	DetailsHash    string         `json:"detailsHash,omitempty"`

	// Display-only fields; off-chain metadata overrides these.
	ProjectName        string   `json:"projectName,omitempty"`
	ProjectDescription string   `json:"projectDescription,omitempty"`
	AgreementLinks     []string `json:"agreementLinks,omitempty"`
}

// TokenMetadata describes the invoice's payment token.
type TokenMetadata struct {
	Address  common.Address `json:"address"`
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// Balance is a point-in-time balance reading.
type Balance struct {
	Value    *big.Int `json:"value"`
	Decimals uint8    `json:"decimals"`
	Symbol   string   `json:"symbol"`
}
