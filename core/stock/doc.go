// Package stock is the built-in host stock engine. It owns outgoing picking
// types, creates shipments and their moves, validates the shipment lifecycle
// and notifies observers of state changes inside the enclosing transaction.
//
// Order confirmation honours the shipment suppression flag carried by the
// context (see WithSuppression): when set, procurement, move creation and the
// delivery document hooks short-circuit and no shipment is generated.
package stock
