package fixtures

import (
	"context"
)

// CreateOrder opens an order for a customer.
type CreateOrder struct {
	OrderID  string
	Customer string
}

func (c CreateOrder) AggregateID() string { return c.OrderID }

// ShipOrder ships an open order.
type ShipOrder struct {
	OrderID string
}

func (c ShipOrder) AggregateID() string { return c.OrderID }

// DecideCreateOrder creates the order unless it already exists, in which case
// the command has no effect.
func DecideCreateOrder(ctx context.Context, o *Order, cmd CreateOrder) error {
	if o.Created {
		return nil
	}
	o.Create(cmd.Customer)
	return nil
}

// DecideShipOrder ships the order.
func DecideShipOrder(ctx context.Context, o *Order, cmd ShipOrder) error {
	return o.Ship()
}
