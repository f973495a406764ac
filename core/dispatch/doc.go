// Package dispatch implements the order dispatch engine.
//
// An order in dispatch mode is confirmed without shipments. Its dispatch
// header collects dispatch lines, each allocating part of an order line to a
// stakeholder, a registered delivery address and a date. Confirming lines
// groups them by (stakeholder, address, date, order) and emits one outgoing
// shipment per group through the stock engine.
//
// Every operation runs in one store transaction. Before commit the engine
// re-checks that no order line is over-allocated, recomputes the order line
// rollups, appends ledger entries and refreshes header progress. Events are
// published on the bus and shipments recorded on the metrics sink once the
// transaction committed.
package dispatch
