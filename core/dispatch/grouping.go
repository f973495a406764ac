package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/kilianp07/orderdispatch/core/events"
	"github.com/kilianp07/orderdispatch/core/metrics"
	"github.com/kilianp07/orderdispatch/core/model"
	"github.com/kilianp07/orderdispatch/core/stock"
)

// GroupKey identifies the lines fused into one shipment. Date is the
// normalized scheduled datetime in UTC.
type GroupKey struct {
	StakeholderID string    `json:"stakeholder_id"`
	AddressID     string    `json:"address_id"`
	Date          time.Time `json:"date"`
	OrderID       string    `json:"order_id"`
}

func (k GroupKey) less(other GroupKey) bool {
	if k.StakeholderID != other.StakeholderID {
		return k.StakeholderID < other.StakeholderID
	}
	if k.AddressID != other.AddressID {
		return k.AddressID < other.AddressID
	}
	if !k.Date.Equal(other.Date) {
		return k.Date.Before(other.Date)
	}
	return k.OrderID < other.OrderID
}

func (k GroupKey) equal(other GroupKey) bool {
	return k.StakeholderID == other.StakeholderID && k.AddressID == other.AddressID &&
		k.Date.Equal(other.Date) && k.OrderID == other.OrderID
}

// GroupFailure reports a group whose shipment could not be emitted. Its lines
// are left unchanged.
type GroupFailure struct {
	Key     GroupKey `json:"key"`
	LineIDs []string `json:"line_ids"`
	Reason  string   `json:"reason"`
	Message string   `json:"message"`
	Err     error    `json:"-"`
}

// MaterializeResult lists the shipments emitted by one grouping run and the
// groups that failed.
type MaterializeResult struct {
	Shipments []*model.Shipment `json:"shipments"`
	Failures  []GroupFailure    `json:"failures,omitempty"`
}

type group struct {
	key   GroupKey
	lines []*model.DispatchLine
}

// normalize moves t to the configured shipment hour of its local day and
// returns it in UTC.
func (e *Engine) normalize(t time.Time) time.Time {
	lt := t.In(e.loc)
	y, m, d := lt.Date()
	return time.Date(y, m, d, e.cfg.Hour(), 0, 0, 0, e.loc).UTC()
}

func (e *Engine) keyOf(l *model.DispatchLine) GroupKey {
	return GroupKey{
		StakeholderID: l.StakeholderID,
		AddressID:     l.AddressID,
		Date:          e.normalize(l.ScheduledDate),
		OrderID:       l.OrderID,
	}
}

// groupLines sorts lines by key and collects runs of equal keys. Lines keep
// their creation order inside a group.
func (e *Engine) groupLines(lines []*model.DispatchLine) []group {
	type keyed struct {
		key  GroupKey
		line *model.DispatchLine
	}
	ks := make([]keyed, len(lines))
	for i, l := range lines {
		ks[i] = keyed{e.keyOf(l), l}
	}
	sort.SliceStable(ks, func(i, j int) bool {
		if !ks[i].key.equal(ks[j].key) {
			return ks[i].key.less(ks[j].key)
		}
		if !ks[i].line.CreatedAt.Equal(ks[j].line.CreatedAt) {
			return ks[i].line.CreatedAt.Before(ks[j].line.CreatedAt)
		}
		return ks[i].line.ID < ks[j].line.ID
	})
	var groups []group
	for _, k := range ks {
		if n := len(groups); n > 0 && groups[n-1].key.equal(k.key) {
			groups[n-1].lines = append(groups[n-1].lines, k.line)
			continue
		}
		groups = append(groups, group{key: k.key, lines: []*model.DispatchLine{k.line}})
	}
	return groups
}

// pending reports whether l waits for a shipment.
func pending(l *model.DispatchLine) bool {
	switch l.State {
	case model.DispatchDraft:
		return true
	case model.DispatchConfirmed:
		return l.ShipmentID == ""
	}
	return false
}

// candidates returns the lines of the header to group. With ids set only
// those lines are considered. Zero-quantity draft lines are deleted.
func (e *Engine) candidates(ctx context.Context, headerID string, ids []string) ([]*model.DispatchLine, error) {
	var out []*model.DispatchLine
	err := e.run(ctx, func(ctx context.Context, o *op) error {
		out = nil
		h, err := o.tx.Header(ctx, headerID)
		if err != nil {
			return err
		}
		if h.State != model.DispatchConfirmed {
			return fmt.Errorf("dispatch %s is %s: %w", h.Reference, h.State, ErrInvalidState)
		}
		lines, err := o.tx.LinesOfHeader(ctx, headerID)
		if err != nil {
			return err
		}
		want := map[string]bool{}
		for _, id := range ids {
			want[id] = true
		}
		for _, l := range lines {
			if len(want) > 0 && !want[l.ID] {
				continue
			}
			if !pending(l) {
				continue
			}
			if l.Quantity.IsZero() {
				if l.State == model.DispatchDraft {
					if err := o.deleteLine(ctx, l); err != nil {
						return err
					}
				}
				continue
			}
			out = append(out, l)
		}
		return nil
	})
	return out, err
}

// materialize emits one shipment per group of pending lines. Each group runs
// in its own transaction; a failed group leaves its lines untouched and does
// not stop the others.
func (e *Engine) materialize(ctx context.Context, headerID string, ids []string) (*MaterializeResult, error) {
	timer := prometheus.NewTimer(materializationDuration)
	defer timer.ObserveDuration()

	lines, err := e.candidates(ctx, headerID, ids)
	if err != nil {
		return nil, err
	}
	res := &MaterializeResult{}
	for _, g := range e.groupLines(lines) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		sh, err := e.emit(ctx, headerID, g)
		if err != nil {
			res.Failures = append(res.Failures, e.groupFailed(headerID, g, err))
			continue
		}
		res.Shipments = append(res.Shipments, sh)
	}
	e.log.Infof("dispatch %s: %d shipment(s) materialized, %d group(s) failed", headerID, len(res.Shipments), len(res.Failures))
	return res, nil
}

// reason returns a short label of a group failure for metrics.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrNoPickingType):
		return "no_picking_type"
	case errors.Is(err, stock.ErrNoStockRule):
		return "no_stock_rule"
	case errors.Is(err, ErrOverAllocation):
		return "over_allocation"
	case errors.Is(err, ErrIncompatibleUoM):
		return "incompatible_uom"
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrFrozenLine):
		return "invalid_state"
	default:
		return "error"
	}
}

func (e *Engine) groupFailed(headerID string, g group, err error) GroupFailure {
	f := GroupFailure{Key: g.key, Reason: reason(err), Message: err.Error(), Err: err}
	for _, l := range g.lines {
		f.LineIDs = append(f.LineIDs, l.ID)
	}
	groupFailures.WithLabelValues(f.Reason).Inc()
	e.log.Warnf("dispatch %s: group %s/%s/%s rolled back: %v",
		headerID, g.key.StakeholderID, g.key.AddressID, g.key.Date.Format(time.RFC3339), err)
	if rec, ok := e.sink.(metrics.GroupFailureRecorder); ok {
		if rerr := rec.RecordGroupFailure(metrics.GroupFailure{
			HeaderID: headerID, Reason: f.Reason, Lines: len(g.lines), Time: e.now(),
		}); rerr != nil {
			e.log.Warnf("record group failure: %v", rerr)
		}
	}
	if e.bus != nil {
		e.bus.Publish(events.GroupFailedEvent{
			HeaderID:      headerID,
			StakeholderID: g.key.StakeholderID,
			AddressID:     g.key.AddressID,
			ScheduledDate: g.key.Date,
			Lines:         len(g.lines),
			Reason:        f.Reason,
			Time:          e.now(),
		})
	}
	return f
}

// emit creates the shipment of one group and confirms its lines.
func (e *Engine) emit(ctx context.Context, headerID string, g group) (*model.Shipment, error) {
	var out *model.Shipment
	err := e.run(ctx, func(ctx context.Context, o *op) error {
		h, err := o.tx.Header(ctx, headerID)
		if err != nil {
			return err
		}
		if h.State != model.DispatchConfirmed {
			return fmt.Errorf("dispatch %s is %s: %w", h.Reference, h.State, ErrInvalidState)
		}
		order, err := o.tx.Order(ctx, h.OrderID)
		if err != nil {
			return err
		}
		lines := make([]*model.DispatchLine, 0, len(g.lines))
		for _, gl := range g.lines {
			l, err := o.tx.DispatchLine(ctx, gl.ID)
			if err != nil {
				return err
			}
			if !pending(l) || !e.keyOf(l).equal(g.key) {
				return fmt.Errorf("line %s changed during materialization: %w", l.ID, ErrInvalidState)
			}
			if err := validateTarget(ctx, o.tx, l.StakeholderID, l.AddressID); err != nil {
				return err
			}
			lines = append(lines, l)
		}
		moves := make([]model.Move, 0, len(lines))
		var notes []string
		for _, l := range lines {
			p, err := o.product(ctx, l.ProductID)
			if err != nil {
				return err
			}
			mv := model.Move{
				ProductID:      l.ProductID,
				Quantity:       l.Quantity,
				UoMID:          l.UoMID,
				Deadline:       g.key.Date,
				OrderLineID:    l.OrderLineID,
				DispatchLineID: l.ID,
				Tracking:       p.Tracking,
			}
			notes = append(notes, enrich(&mv, p, g.key.Date.In(e.loc))...)
			moves = append(moves, mv)
		}
		sh, err := e.stock.CreateShipment(ctx, o.tx, stock.ShipmentRequest{
			CompanyID:     order.CompanyID,
			OrderID:       order.ID,
			HeaderID:      h.ID,
			PartnerID:     g.key.StakeholderID,
			AddressID:     g.key.AddressID,
			ScheduledDate: g.key.Date,
			Origin:        order.Reference + " - " + h.Reference,
			Note:          strings.Join(notes, "\n"),
			Moves:         moves,
		})
		if err != nil {
			return err
		}
		qty := decimal.Zero
		for _, l := range lines {
			l.ShipmentID = sh.ID
			o.setLineState(l, model.DispatchConfirmed)
			if err := o.saveLine(ctx, l, false); err != nil {
				return err
			}
			qty = qty.Add(l.Quantity)
		}
		total, _ := qty.Float64()
		o.shipments = append(o.shipments, metrics.ShipmentRecord{
			ShipmentID:    sh.ID,
			Reference:     sh.Reference,
			OrderID:       sh.OrderID,
			HeaderID:      sh.HeaderID,
			CompanyID:     sh.CompanyID,
			PartnerID:     sh.PartnerID,
			AddressID:     sh.AddressID,
			ScheduledDate: sh.ScheduledDate,
			Moves:         len(sh.Moves),
			Quantity:      total,
			Time:          o.now,
		})
		o.events = append(o.events, events.ShipmentEvent{
			ShipmentID:    sh.ID,
			Reference:     sh.Reference,
			OrderID:       sh.OrderID,
			HeaderID:      sh.HeaderID,
			PartnerID:     sh.PartnerID,
			AddressID:     sh.AddressID,
			ScheduledDate: sh.ScheduledDate,
			State:         sh.State,
			Moves:         len(sh.Moves),
			Time:          o.now,
		})
		out = sh
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Debugw("shipment materialized", map[string]any{
		"shipment": out.Reference, "partner": out.PartnerID, "address": out.AddressID, "moves": len(out.Moves),
	})
	return out, nil
}

// enrich applies the product handling attributes to the move and returns the
// delivery note lines it contributes.
func enrich(mv *model.Move, p *model.Product, day time.Time) []string {
	var notes []string
	if p.Perishable {
		notes = append(notes, fmt.Sprintf("Perishable: %s, deliver on %s", p.Name, day.Format("2006-01-02")))
	}
	if p.ColdChain {
		mv.TemperatureControl = true
		mv.MaxTemperature = 4
		mv.Tracking = "lot"
	}
	if len(p.Allergens) > 0 {
		notes = append(notes, fmt.Sprintf("Allergens in %s: %s", p.Name, strings.Join(p.Allergens, ", ")))
	}
	return notes
}
