package gateway

import (
	"context"
	"errors"

	"github.com/brightpath-academy/enroll/internal/domain"
)

var (
	// ErrUnavailable indicates the gateway key fetch or widget load failed;
	// submission must abort before any order is created.
	ErrUnavailable = errors.New("gateway: unavailable")
	// ErrTransport indicates an order-creation or verification round trip
	// failed (network error, success=false, or malformed response).
	ErrTransport = errors.New("gateway: transport failure")
	// ErrDismissed indicates the user closed the checkout widget without
	// completing payment. It is not an error condition for the applicant.
	ErrDismissed = errors.New("gateway: checkout dismissed")
)

// OrderRequest captures the payload for creating a server-side order prior
// to opening the checkout widget.
type OrderRequest struct {
	Amount        int64
	Currency      string
	Receipt       string
	CustomerName  string
	CustomerEmail string
}

// Prefill seeds the checkout widget's form with applicant contact details.
type Prefill struct {
	Name    string
	Email   string
	Contact string
}

// CheckoutConfig is the configuration handed to the checkout widget. The
// widget resolves with a PaymentReceipt on completion or ErrDismissed when
// closed before completing; exactly one of the two happens.
type CheckoutConfig struct {
	Key         string
	Amount      int64
	Currency    string
	Name        string
	Description string
	OrderID     string
	Prefill     Prefill
	ThemeColor  string
}

// Provider wraps the four external payment operations behind a uniform
// interface so the orchestrator can be tested against fakes.
type Provider interface {
	// FetchPublicKey retrieves the gateway's publishable key.
	FetchPublicKey(ctx context.Context) (string, error)
	// LoadWidget idempotently loads the external checkout script. It reports
	// false on failure and never returns an error; repeated calls must not
	// produce observable duplicate side effects.
	LoadWidget(ctx context.Context) bool
	// CreateOrder performs the server round trip binding an amount and a
	// receipt reference to a gateway order.
	CreateOrder(ctx context.Context, req OrderRequest) (domain.PaymentIntent, error)
	// VerifyPayment validates the receipt's signature server-side. It must
	// be called before the account is committed; client-reported success is
	// never trusted on its own.
	VerifyPayment(ctx context.Context, receipt domain.PaymentReceipt) (domain.VerificationResult, error)
}

// Widget is the injected checkout overlay. Open suspends until the user
// either completes payment (returning the receipt) or dismisses the widget
// (returning ErrDismissed). No timeout is enforced on the interaction.
type Widget interface {
	Open(ctx context.Context, cfg CheckoutConfig) (domain.PaymentReceipt, error)
}
