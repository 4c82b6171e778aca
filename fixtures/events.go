package fixtures

import (
	es "github.com/terraskye/eventsourcing-engine"
)

// OrderCreated opens an order.
type OrderCreated struct {
	OrderID  string `json:"orderId"`
	Customer string `json:"customer"`
}

func (OrderCreated) EventType() string { return "OrderCreated" }

// ItemAdded adds a line to an order.
type ItemAdded struct {
	OrderID string `json:"orderId"`
	SKU     string `json:"sku"`
	Qty     int    `json:"qty"`
}

func (ItemAdded) EventType() string { return "ItemAdded" }

// OrderShipped closes an order successfully.
type OrderShipped struct {
	OrderID string `json:"orderId"`
}

func (OrderShipped) EventType() string { return "OrderShipped" }

// OrderCancelled closes an order without shipping.
type OrderCancelled struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

func (OrderCancelled) EventType() string { return "OrderCancelled" }

// UnregisteredEvent is never added to NewRegistry; decoding it fails.
type UnregisteredEvent struct {
	Note string `json:"note"`
}

func (UnregisteredEvent) EventType() string { return "UnregisteredEvent" }

// NewRegistry returns a registry holding every order event.
func NewRegistry() *es.Registry {
	r := es.NewRegistry()
	es.Register[OrderCreated](r)
	es.Register[ItemAdded](r)
	es.Register[OrderShipped](r)
	es.Register[OrderCancelled](r)
	return r
}

// NewCodec returns a JSON codec over NewRegistry.
func NewCodec() *es.JSONCodec {
	return es.NewJSONCodec(NewRegistry())
}

// Common pre-built events for quick testing.
var (
	OrderCreatedEvent   = OrderCreated{OrderID: "1", Customer: "alice"}
	ItemAddedEvent      = ItemAdded{OrderID: "1", SKU: "sku-1", Qty: 2}
	OrderShippedEvent   = OrderShipped{OrderID: "1"}
	OrderCancelledEvent = OrderCancelled{OrderID: "1", Reason: "changed mind"}
)
