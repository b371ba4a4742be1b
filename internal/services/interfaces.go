package services

import (
	"context"

	"github.com/brightpath-academy/enroll/internal/domain"
)

// Type aliases expose domain models to the services package without
// reversing dependency direction.
type (
	ApplicantRecord    = domain.ApplicantRecord
	FieldErrors        = domain.FieldErrors
	PaymentIntent      = domain.PaymentIntent
	PaymentReceipt     = domain.PaymentReceipt
	VerificationResult = domain.VerificationResult
	SubmissionOutcome  = domain.SubmissionOutcome
	WizardStep         = domain.WizardStep
	Plan               = domain.Plan
)

// Phase names the orchestrator's observable states. Transitions are owned
// exclusively by the EnrollmentService; every other component only returns
// values the orchestrator interprets.
type Phase string

const (
	// PhaseEditing means the wizard is accepting input on the current step.
	PhaseEditing Phase = "editing"
	// PhaseFinalValidating means a submission is re-validating every step.
	PhaseFinalValidating Phase = "final_validating"
	// PhaseRequestingKey means the gateway's publishable key is being fetched.
	PhaseRequestingKey Phase = "requesting_key"
	// PhaseLoadingWidget means the checkout script is being loaded.
	PhaseLoadingWidget Phase = "loading_widget"
	// PhaseCreatingOrder means the server-side order is being created.
	PhaseCreatingOrder Phase = "creating_order"
	// PhaseAwaitingPayment means the checkout widget is open and the flow is
	// suspended on user interaction.
	PhaseAwaitingPayment Phase = "awaiting_payment"
	// PhaseVerifyingPayment means the receipt signature is being verified.
	PhaseVerifyingPayment Phase = "verifying_payment"
	// PhaseCommitting means the account-creation call is in flight.
	PhaseCommitting Phase = "committing"
	// PhaseSucceeded is the happy terminal state for the session.
	PhaseSucceeded Phase = "succeeded"
	// PhaseFailed means the last submission attempt hit a gateway or
	// transport failure; Submit may be retried and edits return the session
	// to PhaseEditing.
	PhaseFailed Phase = "failed"
)

// Failure codes carried on SessionState.FailureCode.
const (
	// FailureGatewayUnavailable marks key-fetch or widget-load failures.
	FailureGatewayUnavailable = "gateway_unavailable"
	// FailureTransport marks order-creation, verification, or commit
	// round-trip failures.
	FailureTransport = "transport_failure"
)

// CheckoutDetails is the client-facing slice of an open payment attempt.
type CheckoutDetails struct {
	Key         string
	OrderID     string
	Amount      int64
	Currency    string
	Name        string
	Description string
	ThemeColor  string
	Prefill     CheckoutPrefill
}

// CheckoutPrefill seeds the widget's contact form.
type CheckoutPrefill struct {
	Name    string
	Email   string
	Contact string
}

// SessionState is the immutable snapshot the orchestrator emits after each
// action. The presentation layer renders it and never mutates it.
type SessionState struct {
	ID               string
	Phase            Phase
	Step             WizardStep
	Record           ApplicantRecord
	Errors           FieldErrors
	Touched          []string
	Busy             bool
	PaymentCompleted bool
	FailureCode      string
	FailureMessage   string
	Checkout         *CheckoutDetails
}

// EnrollmentService is the onboarding orchestrator: it sequences wizard
// steps, triggers payment, and triggers the account commit, owning all
// session state.
type EnrollmentService interface {
	StartSession(ctx context.Context) (SessionState, error)
	GetSession(ctx context.Context, sessionID string) (SessionState, error)
	UpdateField(ctx context.Context, sessionID, field, value string) (SessionState, error)
	TouchField(ctx context.Context, sessionID, field string) (SessionState, error)
	Next(ctx context.Context, sessionID string) (SessionState, error)
	Back(ctx context.Context, sessionID string) (SessionState, error)
	Submit(ctx context.Context, sessionID string) (SessionState, error)
}
