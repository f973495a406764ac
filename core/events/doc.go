// Package events defines the dispatch related events emitted on the event bus
// once the transaction producing them committed.
//
// Available event types:
//   - HeaderEvent: dispatch header state change
//   - LineEvent: dispatch line state change
//   - ShipmentEvent: shipment emitted or moved to a new state
//   - AllocationRejectedEvent: a write refused because of over-allocation
//   - GroupFailedEvent: a shipment group left in draft after a failure
//
// ShipmentNotification travels the other way: it carries state changes
// reported by the warehouse into the engine.
package events
