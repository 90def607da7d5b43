// Package events defines the venue's immutable audit records and the sinks
// they flow into. Every settlement-relevant state change emits exactly one
// record per affected order plus a swap record per executed fill, so an
// off-chain indexer can reconstruct activity without reading engine state.
package events

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type Type string

const (
	TypeMarketCreated      Type = "market_created"
	TypeOrderPlaced        Type = "order_placed"
	TypeOrderMatched       Type = "order_matched"
	TypeOrderCanceled      Type = "order_canceled"
	TypeOrderExpired       Type = "order_expired"
	TypeOtcOrderPlaced     Type = "otc_order_placed"
	TypeOtcOrderMatched    Type = "otc_order_matched"
	TypeOtcOrderCanceled   Type = "otc_order_canceled"
	TypeSynthOrderPlaced   Type = "synth_order_placed"
	TypeSynthOrderCanceled Type = "synth_order_canceled"
	TypeSynthMatched       Type = "synth_matched"
	TypeSwapExecuted       Type = "swap_executed"
)

// Event is one audit record. Fields not meaningful for a given type are
// zero-valued and omitted from the encoding.
type Event struct {
	Type   Type   `json:"type"`
	TimeMs uint64 `json:"ts_ms"`
	Market string `json:"market,omitempty"`

	OrderID string         `json:"order_id,omitempty"`
	Owner   common.Address `json:"owner,omitempty"`
	Side    string         `json:"side,omitempty"`

	Price uint64 `json:"price,omitempty"`
	Qty   uint64 `json:"qty,omitempty"`

	Maker common.Address `json:"maker,omitempty"`
	Taker common.Address `json:"taker,omitempty"`

	Fee    uint64 `json:"fee,omitempty"`
	Rebate uint64 `json:"rebate,omitempty"`
	Bond   uint64 `json:"bond,omitempty"`

	Reason string `json:"reason,omitempty"`
}

// Sink consumes audit records. Implementations must not block the engine.
type Sink interface {
	Emit(Event)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// MemorySink buffers records in order, for tests and in-process consumers.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

// Events returns a copy of everything emitted so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByType filters the buffered records.
func (s *MemorySink) ByType(t Type) []Event {
	var out []Event
	for _, e := range s.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Tee fans one record out to several sinks.
type Tee []Sink

func (t Tee) Emit(e Event) {
	for _, s := range t {
		s.Emit(e)
	}
}
