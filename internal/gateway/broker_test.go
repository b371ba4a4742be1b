package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brightpath-academy/enroll/internal/domain"
)

func (b *CheckoutBroker) hasPending(orderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[orderID]
	return ok
}

func TestBrokerCompleteResolvesOpen(t *testing.T) {
	broker := NewCheckoutBroker()

	type result struct {
		receipt domain.PaymentReceipt
		err     error
	}
	done := make(chan result, 1)
	go func() {
		receipt, err := broker.Open(context.Background(), CheckoutConfig{OrderID: "order_1"})
		done <- result{receipt, err}
	}()

	deadline := time.After(2 * time.Second)
	for {
		err := broker.Complete("order_1", domain.PaymentReceipt{OrderID: "order_1", PaymentID: "pay_1", Signature: "sig_1"})
		if err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("open never registered: %v", err)
		case <-time.After(time.Millisecond):
		}
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("open: %v", res.err)
	}
	if res.receipt.PaymentID != "pay_1" {
		t.Fatalf("unexpected receipt %+v", res.receipt)
	}
}

func TestBrokerDismissResolvesOpenWithErrDismissed(t *testing.T) {
	broker := NewCheckoutBroker()

	done := make(chan error, 1)
	go func() {
		_, err := broker.Open(context.Background(), CheckoutConfig{OrderID: "order_2"})
		done <- err
	}()

	deadline := time.After(2 * time.Second)
	for {
		if err := broker.Dismiss("order_2"); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("open never registered")
		case <-time.After(time.Millisecond):
		}
	}

	if err := <-done; !errors.Is(err, ErrDismissed) {
		t.Fatalf("expected ErrDismissed, got %v", err)
	}
}

func TestBrokerOnlyOneContinuationFires(t *testing.T) {
	broker := NewCheckoutBroker()

	done := make(chan error, 1)
	go func() {
		_, err := broker.Open(context.Background(), CheckoutConfig{OrderID: "order_3"})
		done <- err
	}()

	deadline := time.After(2 * time.Second)
	for {
		if err := broker.Complete("order_3", domain.PaymentReceipt{OrderID: "order_3"}); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("open never registered")
		case <-time.After(time.Millisecond):
		}
	}

	if err := <-done; err != nil {
		t.Fatalf("open: %v", err)
	}

	// The losing continuation finds no pending checkout.
	if err := broker.Dismiss("order_3"); !errors.Is(err, ErrNoPendingCheckout) {
		t.Fatalf("expected ErrNoPendingCheckout, got %v", err)
	}
}

func TestBrokerResolutionWithoutOpenFails(t *testing.T) {
	broker := NewCheckoutBroker()
	if err := broker.Complete("missing", domain.PaymentReceipt{}); !errors.Is(err, ErrNoPendingCheckout) {
		t.Fatalf("expected ErrNoPendingCheckout, got %v", err)
	}
}

func TestBrokerOpenHonoursContextCancellation(t *testing.T) {
	broker := NewCheckoutBroker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := broker.Open(ctx, CheckoutConfig{OrderID: "order_4"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBrokerCompletionAfterAbandonedOpenFails(t *testing.T) {
	broker := NewCheckoutBroker()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := broker.Open(ctx, CheckoutConfig{OrderID: "order_5"})
		done <- err
	}()

	deadline := time.After(2 * time.Second)
	for !broker.hasPending("order_5") {
		select {
		case <-deadline:
			t.Fatalf("open never registered")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if err := broker.Complete("order_5", domain.PaymentReceipt{OrderID: "order_5"}); !errors.Is(err, ErrNoPendingCheckout) {
		t.Fatalf("expected ErrNoPendingCheckout, got %v", err)
	}
}

// A completion racing against a cancelled open must agree with it: Complete
// reports success only when Open actually received the receipt, so a payer
// is never told their checkout resolved while the receipt went unread.
func TestBrokerCompletionAndCancellationAgree(t *testing.T) {
	broker := NewCheckoutBroker()

	for i := 0; i < 200; i++ {
		orderID := "order_race"
		ctx, cancel := context.WithCancel(context.Background())

		type openResult struct {
			receipt domain.PaymentReceipt
			err     error
		}
		opened := make(chan openResult, 1)
		go func() {
			receipt, err := broker.Open(ctx, CheckoutConfig{OrderID: orderID})
			opened <- openResult{receipt, err}
		}()

		deadline := time.After(2 * time.Second)
		for !broker.hasPending(orderID) {
			select {
			case <-deadline:
				t.Fatalf("open never registered")
			case <-time.After(time.Millisecond):
			}
		}

		completed := make(chan error, 1)
		go func() {
			completed <- broker.Complete(orderID, domain.PaymentReceipt{OrderID: orderID, PaymentID: "pay_1"})
		}()
		cancel()

		res := <-opened
		completeErr := <-completed
		if completeErr == nil && res.err != nil {
			t.Fatalf("iteration %d: completion reported success but open returned %v", i, res.err)
		}
		if completeErr == nil && res.receipt.PaymentID != "pay_1" {
			t.Fatalf("iteration %d: completion reported success but receipt %+v was not delivered", i, res.receipt)
		}
	}
}
