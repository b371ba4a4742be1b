package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/brightpath-academy/enroll/internal/domain"
)

var (
	// ErrNoPendingCheckout is returned when a completion or dismissal
	// arrives for an order with no open checkout.
	ErrNoPendingCheckout = errors.New("gateway: no pending checkout for order")
)

type checkoutResolution struct {
	receipt   domain.PaymentReceipt
	dismissed bool
}

// pendingCheckout pairs the resolution channel with an abandoned marker so a
// resolution racing against Open's return cannot report success for a
// receipt nobody will read.
type pendingCheckout struct {
	ch        chan checkoutResolution
	abandoned chan struct{}
}

// CheckoutBroker implements Widget for remote checkout overlays. Open
// registers a pending checkout keyed by order id and suspends; Complete and
// Dismiss are the two alternative continuations. Whichever arrives first
// wins and the pending entry is removed, so at most one fires per open.
type CheckoutBroker struct {
	mu      sync.Mutex
	pending map[string]*pendingCheckout
}

// NewCheckoutBroker constructs an empty broker.
func NewCheckoutBroker() *CheckoutBroker {
	return &CheckoutBroker{pending: make(map[string]*pendingCheckout)}
}

// Open suspends until the checkout for cfg.OrderID is completed or
// dismissed, or the context is cancelled.
func (b *CheckoutBroker) Open(ctx context.Context, cfg CheckoutConfig) (domain.PaymentReceipt, error) {
	if cfg.OrderID == "" {
		return domain.PaymentReceipt{}, errors.New("gateway: order id is required to open checkout")
	}

	p := &pendingCheckout{
		ch:        make(chan checkoutResolution),
		abandoned: make(chan struct{}),
	}
	b.mu.Lock()
	if _, exists := b.pending[cfg.OrderID]; exists {
		b.mu.Unlock()
		return domain.PaymentReceipt{}, errors.New("gateway: checkout already open for order")
	}
	b.pending[cfg.OrderID] = p
	b.mu.Unlock()

	defer func() {
		close(p.abandoned)
		b.remove(cfg.OrderID)
	}()

	select {
	case res := <-p.ch:
		if res.dismissed {
			return domain.PaymentReceipt{}, ErrDismissed
		}
		return res.receipt, nil
	case <-ctx.Done():
		return domain.PaymentReceipt{}, ctx.Err()
	}
}

// Complete delivers the widget's receipt to the pending open.
func (b *CheckoutBroker) Complete(orderID string, receipt domain.PaymentReceipt) error {
	return b.resolve(orderID, checkoutResolution{receipt: receipt})
}

// Dismiss signals that the user closed the widget without completing.
func (b *CheckoutBroker) Dismiss(orderID string) error {
	return b.resolve(orderID, checkoutResolution{dismissed: true})
}

// resolve hands the resolution to the suspended Open. The send is
// unbuffered so success means Open received it; if Open already gave up
// (context cancellation) the resolution is refused instead of landing in a
// channel nobody reads.
func (b *CheckoutBroker) resolve(orderID string, res checkoutResolution) error {
	b.mu.Lock()
	p, ok := b.pending[orderID]
	if ok {
		delete(b.pending, orderID)
	}
	b.mu.Unlock()
	if !ok {
		return ErrNoPendingCheckout
	}
	select {
	case p.ch <- res:
		return nil
	case <-p.abandoned:
		return ErrNoPendingCheckout
	}
}

func (b *CheckoutBroker) remove(orderID string) {
	b.mu.Lock()
	delete(b.pending, orderID)
	b.mu.Unlock()
}
