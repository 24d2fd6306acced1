package invoice

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// EventType tags the variants of the invoice event log.
type EventType string

const (
	EventDeposit      EventType = "deposit"
	EventRelease      EventType = "release"
	EventWithdraw     EventType = "withdraw"
	EventLock         EventType = "lock"
	EventResolution   EventType = "resolution"
	EventVerification EventType = "verification"
)

// Event is one record of the append-only invoice event log. It is a
// tagged union: Type decides which of the optional fields are set.
type Event struct {
	ID        string    `json:"id"`
	TxHash    string    `json:"txHash"`
	Timestamp int64     `json:"timestamp"`
	LogIndex  uint      `json:"logIndex"`
	Type      EventType `json:"type"`

	// deposit, lock
	Sender common.Address `json:"sender,omitempty"`
	// deposit, release, withdraw
	Amount *big.Int `json:"amount,omitempty"`
	// release
	Milestone int `json:"milestone,omitempty"`
	// lock, resolution
	DetailsHash string `json:"detailsHash,omitempty"`
	// resolution
	ClientAward   *big.Int `json:"clientAward,omitempty"`
	ProviderAward *big.Int `json:"providerAward,omitempty"`
	ResolutionFee *big.Int `json:"resolutionFee,omitempty"`
	ResolverType  string   `json:"resolverType,omitempty"`
	// verification
	Client common.Address `json:"client,omitempty"`
}

// after reports whether e occurred strictly after o in log order.
func (e Event) after(o Event) bool {
	if e.Timestamp != o.Timestamp {
		return e.Timestamp > o.Timestamp
	}
	return e.LogIndex > o.LogIndex
}

// sortEvents returns a copy ordered by (timestamp, logIndex) ascending.
// The data source's arrival order is never trusted.
func sortEvents(events []Event) []Event {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Timestamp != sorted[j].Timestamp {
			return sorted[i].Timestamp < sorted[j].Timestamp
		}
		return sorted[i].LogIndex < sorted[j].LogIndex
	})
	return sorted
}

// reverse returns a newest-first copy of an ascending slice.
func reverse(events []Event) []Event {
	out := make([]Event, len(events))
	for i, e := range events {
		out[len(events)-1-i] = e
	}
	return out
}
