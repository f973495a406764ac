// Package export writes shipment schedules for the warehouse.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/kilianp07/orderdispatch/core/model"
)

// Formats lists the supported output formats.
var Formats = []string{"csv", "json"}

// Write writes shipments to w in the given format.
func Write(w io.Writer, format string, shipments []*model.Shipment) error {
	switch format {
	case "csv":
		return WriteCSV(w, shipments)
	case "json":
		return WriteJSON(w, shipments)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// WriteJSON writes the shipments to w in JSON format, ordered by schedule.
func WriteJSON(w io.Writer, shipments []*model.Shipment) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	out := sorted(shipments)
	if out == nil {
		out = []*model.Shipment{}
	}
	return enc.Encode(out)
}

// WriteCSV writes one row per move, ordered by schedule.
func WriteCSV(w io.Writer, shipments []*model.Shipment) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"reference", "origin", "partner_id", "address_id", "scheduled_date", "state",
		"product_id", "quantity", "uom_id", "dispatch_line_id",
	}); err != nil {
		return err
	}
	for _, sh := range sorted(shipments) {
		for _, mv := range sh.Moves {
			rec := []string{
				sh.Reference,
				sh.Origin,
				sh.PartnerID,
				sh.AddressID,
				sh.ScheduledDate.Format(time.RFC3339),
				string(sh.State),
				mv.ProductID,
				mv.Quantity.String(),
				mv.UoMID,
				mv.DispatchLineID,
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func sorted(shipments []*model.Shipment) []*model.Shipment {
	out := append([]*model.Shipment(nil), shipments...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ScheduledDate.Equal(out[j].ScheduledDate) {
			return out[i].ScheduledDate.Before(out[j].ScheduledDate)
		}
		return out[i].Reference < out[j].Reference
	})
	return out
}
