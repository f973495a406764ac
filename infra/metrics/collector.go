package metrics

import (
	"context"
	"time"

	"github.com/kilianp07/orderdispatch/core/events"
	"github.com/kilianp07/orderdispatch/core/logger"
	coremetrics "github.com/kilianp07/orderdispatch/core/metrics"
	"github.com/kilianp07/orderdispatch/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and records line
// transitions on the sink. It stops when the context is
// canceled or the bus is closed. Sink failures are logged on log.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.MetricsSink, log logger.Logger) {
	if bus == nil || sink == nil {
		return
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				record(sink, ev, log)
			}
		}
	}()
}

func record(sink coremetrics.MetricsSink, ev eventbus.Event, log logger.Logger) {
	e, ok := ev.(events.LineEvent)
	if !ok {
		return
	}
	r, ok := sink.(coremetrics.LineTransitionRecorder)
	if !ok {
		return
	}
	err := r.RecordLineTransition(coremetrics.LineTransition{
		LineID:   e.LineID,
		HeaderID: e.HeaderID,
		From:     string(e.From),
		To:       string(e.To),
		Time:     stamp(e.Time),
	})
	if err != nil {
		log.Errorf("record line transition %s: %v", e.LineID, err)
	}
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
