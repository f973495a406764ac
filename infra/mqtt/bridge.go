package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kilianp07/orderdispatch/core/events"
	"github.com/kilianp07/orderdispatch/core/logger"
	"github.com/kilianp07/orderdispatch/core/model"
	coremqtt "github.com/kilianp07/orderdispatch/core/mqtt"
	"github.com/kilianp07/orderdispatch/internal/eventbus"
)

// ShipmentApplier applies host shipment state changes to the engine.
type ShipmentApplier interface {
	ApplyShipmentState(ctx context.Context, shipmentID string, state model.ShipmentState) (*model.Shipment, error)
}

// Bridge publishes engine events to the broker and feeds shipment state
// notifications back into the engine.
type Bridge struct {
	client        coremqtt.Client
	applier       ShipmentApplier
	eventTopic    string
	shipmentTopic string
	idPos         int
	timeout       time.Duration
	log           logger.Logger
}

// NewBridge creates a bridge over client. cfg defaults are applied.
func NewBridge(cfg Config, client coremqtt.Client, applier ShipmentApplier, log logger.Logger) (*Bridge, error) {
	cfg.SetDefaults()
	pos, err := shipmentIDPosition(cfg.ShipmentTopic)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Bridge{
		client:        client,
		applier:       applier,
		eventTopic:    strings.TrimSuffix(cfg.EventTopic, "/"),
		shipmentTopic: cfg.ShipmentTopic,
		idPos:         pos,
		timeout:       5 * time.Second,
		log:           log,
	}, nil
}

// shipmentIDPosition returns the index of the single '+' segment of pattern.
func shipmentIDPosition(pattern string) (int, error) {
	pos := -1
	for i, seg := range strings.Split(pattern, "/") {
		switch seg {
		case "+":
			if pos >= 0 {
				return 0, fmt.Errorf("shipment topic %q: more than one wildcard", pattern)
			}
			pos = i
		case "#":
			return 0, fmt.Errorf("shipment topic %q: multi-level wildcard not supported", pattern)
		}
	}
	if pos < 0 {
		return 0, fmt.Errorf("shipment topic %q: missing '+' segment", pattern)
	}
	return pos, nil
}

// Topic returns the topic on which ev is published.
func (b *Bridge) Topic(ev events.Event) string {
	return b.eventTopic + "/" + ev.Type()
}

// PublishEvent encodes ev as JSON and publishes it.
func (b *Bridge) PublishEvent(ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish("event", b.Topic(ev), payload)
}

// Run forwards bus events until ctx is done or the bus is closed.
func (b *Bridge) Run(ctx context.Context, bus eventbus.EventBus) {
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
			if err := b.PublishEvent(ev); err != nil {
				b.log.Warnf("publish %s event: %v", ev.Type(), err)
			}
		}
	}
}

// Listen subscribes to shipment state notifications.
func (b *Bridge) Listen(ctx context.Context) error {
	return b.client.Subscribe("shipment", b.shipmentTopic, func(topic string, payload []byte) {
		if err := b.handle(ctx, topic, payload); err != nil {
			b.log.Warnf("shipment notification on %s: %v", topic, err)
		}
	})
}

// decode reads a notification. The payload is either a JSON
// ShipmentNotification or a bare state name; a shipment id in the payload
// wins over the topic segment.
func (b *Bridge) decode(topic string, payload []byte) (events.ShipmentNotification, error) {
	var n events.ShipmentNotification
	raw := strings.TrimSpace(string(payload))
	if strings.HasPrefix(raw, "{") {
		if err := json.Unmarshal(payload, &n); err != nil {
			return n, fmt.Errorf("decode: %w", err)
		}
	} else {
		n.State = model.ShipmentState(raw)
	}
	if n.ShipmentID == "" {
		segs := strings.Split(topic, "/")
		if len(segs) != len(strings.Split(b.shipmentTopic, "/")) || segs[b.idPos] == "" {
			return n, fmt.Errorf("%w: %s", coremqtt.ErrBadTopic, topic)
		}
		n.ShipmentID = segs[b.idPos]
	}
	state, ok := model.ParseShipmentState(string(n.State))
	if !ok {
		return n, fmt.Errorf("unknown shipment state %q", n.State)
	}
	n.State = state
	return n, nil
}

func (b *Bridge) handle(ctx context.Context, topic string, payload []byte) error {
	n, err := b.decode(topic, payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	sh, err := b.applier.ApplyShipmentState(ctx, n.ShipmentID, n.State)
	if err != nil {
		return fmt.Errorf("shipment %s to %s: %w", n.ShipmentID, n.State, err)
	}
	b.log.Infof("shipment %s is now %s", sh.Reference, sh.State)
	return nil
}
