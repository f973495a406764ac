// Package journal keeps an append-only history of the events published by
// the dispatch engine.
package journal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kilianp07/orderdispatch/core/events"
	"github.com/kilianp07/orderdispatch/core/logger"
	"github.com/kilianp07/orderdispatch/internal/eventbus"
)

// Record is one journaled event.
type Record struct {
	Time       time.Time       `json:"time"`
	Type       string          `json:"type"`
	OrderID    string          `json:"order_id,omitempty"`
	HeaderID   string          `json:"header_id,omitempty"`
	LineID     string          `json:"line_id,omitempty"`
	ShipmentID string          `json:"shipment_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// Query defines filters for retrieving records. Zero fields match all.
type Query struct {
	Start    time.Time
	End      time.Time
	OrderID  string
	HeaderID string
	Type     string
}

// Match reports whether r satisfies q.
func (q Query) Match(r Record) bool {
	if !q.Start.IsZero() && r.Time.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Time.After(q.End) {
		return false
	}
	if q.OrderID != "" && r.OrderID != q.OrderID {
		return false
	}
	if q.HeaderID != "" && r.HeaderID != q.HeaderID {
		return false
	}
	return q.Type == "" || r.Type == q.Type
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// NopStore discards records.
type NopStore struct{}

func (NopStore) Append(context.Context, Record) error           { return nil }
func (NopStore) Query(context.Context, Query) ([]Record, error) { return nil, nil }
func (NopStore) Close() error                                   { return nil }

// FromEvent builds the record of ev.
func FromEvent(ev events.Event) (Record, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Record{}, err
	}
	r := Record{Type: ev.Type(), Payload: payload}
	switch e := ev.(type) {
	case events.HeaderEvent:
		r.Time, r.OrderID, r.HeaderID = e.Time, e.OrderID, e.HeaderID
	case events.LineEvent:
		r.Time, r.OrderID, r.HeaderID, r.LineID = e.Time, e.OrderID, e.HeaderID, e.LineID
	case events.ShipmentEvent:
		r.Time, r.OrderID, r.HeaderID, r.ShipmentID = e.Time, e.OrderID, e.HeaderID, e.ShipmentID
	case events.AllocationRejectedEvent:
		r.Time, r.OrderID = e.Time, e.OrderID
	case events.GroupFailedEvent:
		r.Time, r.HeaderID = e.Time, e.HeaderID
	}
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	r.Time = r.Time.UTC()
	return r, nil
}

// Recorder appends bus events to a Store.
type Recorder struct {
	store Store
	log   logger.Logger
}

// NewRecorder creates a recorder. log may be nil.
func NewRecorder(store Store, log logger.Logger) *Recorder {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Recorder{store: store, log: log}
}

// Record appends ev.
func (r *Recorder) Record(ctx context.Context, ev events.Event) error {
	rec, err := FromEvent(ev)
	if err != nil {
		return err
	}
	return r.store.Append(ctx, rec)
}

// Run records bus events until ctx is done or the bus is closed.
func (r *Recorder) Run(ctx context.Context, bus eventbus.EventBus) {
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			ev, ok := e.(events.Event)
			if !ok {
				continue
			}
			if err := r.Record(ctx, ev); err != nil {
				r.log.Warnf("journal %s event: %v", ev.Type(), err)
			}
		}
	}
}
