// Package paper provides a simulated broker that fills every order.
package paper

import (
	"context"
	"sync"

	"github.com/viant/tradegate/service/execution"
)

// OrderPrefix prefixes simulated order ids.
const OrderPrefix = "paper-"

// Broker accepts all orders and remembers them.
type Broker struct {
	mux    sync.Mutex
	orders []*execution.Action
}

// New creates a paper broker.
func New() *Broker {
	return &Broker{}
}

// Submit implements execution.Broker.
func (b *Broker) Submit(ctx context.Context, action *execution.Action) (*execution.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mux.Lock()
	b.orders = append(b.orders, action)
	b.mux.Unlock()
	return &execution.Receipt{Accepted: true, OrderID: OrderPrefix + action.RequestID}, nil
}

// Orders returns submitted actions in order.
func (b *Broker) Orders() []*execution.Action {
	b.mux.Lock()
	defer b.mux.Unlock()
	return append([]*execution.Action(nil), b.orders...)
}
