package fixtures

import (
	"errors"

	es "github.com/terraskye/eventsourcing-engine"
)

var (
	ErrOrderClosed  = errors.New("order is closed")
	ErrOrderMissing = errors.New("order does not exist")
)

// OrderType is the aggregate type and stream prefix of Order.
const OrderType = "Order"

var _ es.Aggregate = (*Order)(nil)

// Order is a small aggregate exercising creation, updates and closing.
type Order struct {
	*es.AggregateBase

	Created   bool
	Customer  string
	Items     map[string]int
	Shipped   bool
	Cancelled bool
	Reason    string
}

// NewOrder returns an empty order with the given id.
func NewOrder(id string) *Order {
	return &Order{
		AggregateBase: es.NewAggregateBase(id),
		Items:         make(map[string]int),
	}
}

func (o *Order) AggregateType() string { return OrderType }

func (o *Order) Apply(event es.Event) {
	switch e := event.(type) {
	case OrderCreated:
		o.Created = true
		o.Customer = e.Customer
	case ItemAdded:
		o.Items[e.SKU] += e.Qty
	case OrderShipped:
		o.Shipped = true
	case OrderCancelled:
		o.Cancelled = true
		o.Reason = e.Reason
	}
}

// Create raises OrderCreated.
func (o *Order) Create(customer string, opts ...es.EventOption) bool {
	return es.Raise(o, OrderCreated{OrderID: o.AggregateID(), Customer: customer}, opts...)
}

// AddItem raises ItemAdded unless the order is closed.
func (o *Order) AddItem(sku string, qty int) error {
	if err := o.open(); err != nil {
		return err
	}
	es.Raise(o, ItemAdded{OrderID: o.AggregateID(), SKU: sku, Qty: qty})
	return nil
}

// Ship raises OrderShipped unless the order is closed.
func (o *Order) Ship() error {
	if err := o.open(); err != nil {
		return err
	}
	es.Raise(o, OrderShipped{OrderID: o.AggregateID()})
	return nil
}

// Cancel raises OrderCancelled unless the order is closed.
func (o *Order) Cancel(reason string) error {
	if err := o.open(); err != nil {
		return err
	}
	es.Raise(o, OrderCancelled{OrderID: o.AggregateID(), Reason: reason})
	return nil
}

func (o *Order) open() error {
	if !o.Created {
		return ErrOrderMissing
	}
	if o.Shipped || o.Cancelled {
		return ErrOrderClosed
	}
	return nil
}
