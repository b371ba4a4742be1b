package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/brightpath-academy/enroll/internal/credentials"
	"github.com/brightpath-academy/enroll/internal/domain"
	"github.com/brightpath-academy/enroll/internal/gateway"
	"github.com/brightpath-academy/enroll/internal/validation"
)

var fixedNow = time.Date(2025, time.June, 15, 9, 0, 0, 0, time.UTC)

type fakeGateway struct {
	key       string
	keyErr    error
	loadOK    bool
	orderErr  error
	verify    domain.VerificationResult
	verifyErr error

	keyCalls    int
	loadCalls   int
	orderCalls  int
	verifyCalls int
}

func (g *fakeGateway) FetchPublicKey(context.Context) (string, error) {
	g.keyCalls++
	if g.keyErr != nil {
		return "", g.keyErr
	}
	return g.key, nil
}

func (g *fakeGateway) LoadWidget(context.Context) bool {
	g.loadCalls++
	return g.loadOK
}

func (g *fakeGateway) CreateOrder(_ context.Context, req gateway.OrderRequest) (domain.PaymentIntent, error) {
	g.orderCalls++
	if g.orderErr != nil {
		return domain.PaymentIntent{}, g.orderErr
	}
	return domain.PaymentIntent{OrderID: "order_1", Amount: req.Amount, Currency: req.Currency}, nil
}

func (g *fakeGateway) VerifyPayment(context.Context, domain.PaymentReceipt) (domain.VerificationResult, error) {
	g.verifyCalls++
	if g.verifyErr != nil {
		return domain.VerificationResult{}, g.verifyErr
	}
	return g.verify, nil
}

func (g *fakeGateway) totalCalls() int {
	return g.keyCalls + g.loadCalls + g.orderCalls + g.verifyCalls
}

type fakeWidget struct {
	receipt domain.PaymentReceipt
	err     error
	opens   int
	lastCfg gateway.CheckoutConfig
	block   chan struct{}
}

func (w *fakeWidget) Open(ctx context.Context, cfg gateway.CheckoutConfig) (domain.PaymentReceipt, error) {
	w.opens++
	w.lastCfg = cfg
	if w.block != nil {
		select {
		case <-w.block:
		case <-ctx.Done():
			return domain.PaymentReceipt{}, ctx.Err()
		}
	}
	if w.err != nil {
		return domain.PaymentReceipt{}, w.err
	}
	return w.receipt, nil
}

type fakeCommitter struct {
	outcomes  []domain.SubmissionOutcome
	calls     int
	records   []domain.ApplicantRecord
	passwords []string
}

func (c *fakeCommitter) Commit(_ context.Context, record domain.ApplicantRecord, password string) domain.SubmissionOutcome {
	c.calls++
	c.records = append(c.records, record)
	c.passwords = append(c.passwords, password)
	idx := c.calls - 1
	if idx >= len(c.outcomes) {
		idx = len(c.outcomes) - 1
	}
	return c.outcomes[idx]
}

type harness struct {
	svc       EnrollmentService
	gateway   *fakeGateway
	widget    *fakeWidget
	committer *fakeCommitter
}

func newHarness(t *testing.T, mutate func(*fakeGateway, *fakeWidget, *fakeCommitter)) *harness {
	t.Helper()

	gw := &fakeGateway{
		key:    "rzp_test_abc",
		loadOK: true,
		verify: domain.VerificationResult{Success: true, Message: "verified"},
	}
	widget := &fakeWidget{
		receipt: domain.PaymentReceipt{OrderID: "order_1", PaymentID: "pay_1", Signature: "sig_1"},
	}
	committer := &fakeCommitter{outcomes: []domain.SubmissionOutcome{{Status: domain.SubmissionAccepted}}}
	if mutate != nil {
		mutate(gw, widget, committer)
	}

	svc, err := NewEnrollmentService(EnrollmentServiceDeps{
		Gateway:        gw,
		Widget:         widget,
		Committer:      committer,
		Credentials:    credentials.NewGenerator(credentials.GeneratorDeps{}),
		Plans:          map[string]Plan{"annual": {ID: "annual", Label: "Annual", Amount: 499900, Currency: "INR"}},
		DefaultPlan:    "annual",
		OrgName:        "Brightpath Academy",
		OrgDescription: "Student enrollment",
		Clock:          func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("new enrollment service: %v", err)
	}
	return &harness{svc: svc, gateway: gw, widget: widget, committer: committer}
}

func (h *harness) startSession(t *testing.T) string {
	t.Helper()
	state, err := h.svc.StartSession(context.Background())
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return state.ID
}

func (h *harness) set(t *testing.T, id, field, value string) {
	t.Helper()
	if _, err := h.svc.UpdateField(context.Background(), id, field, value); err != nil {
		t.Fatalf("update %s: %v", field, err)
	}
}

// fillValidRecord populates every mandatory field with passing values.
func (h *harness) fillValidRecord(t *testing.T, id string) {
	t.Helper()
	h.set(t, id, validation.FieldFirstName, "Asha")
	h.set(t, id, validation.FieldLastName, "Iyer")
	h.set(t, id, validation.FieldDateOfBirth, "2012-04-03")
	h.set(t, id, validation.FieldEmail, "asha@example.com")
	h.set(t, id, validation.FieldPhone, "+91 98765 43210")
	h.set(t, id, validation.FieldGrade, "8")
	h.set(t, id, validation.FieldGuardianName, "Ravi Iyer")
	h.set(t, id, validation.FieldGuardianEmail, "ravi@example.com")
	h.set(t, id, validation.FieldGuardianPhone, "+91 98765 00000")
	h.set(t, id, validation.FieldInterests, "chess, robotics")
	h.set(t, id, validation.FieldPlan, "annual")
}

// walkToFinalStep advances through every step, failing on validation stalls.
func (h *harness) walkToFinalStep(t *testing.T, id string) {
	t.Helper()
	for i := 0; i < domain.StepCount-1; i++ {
		state, err := h.svc.Next(context.Background(), id)
		if err != nil {
			t.Fatalf("next from step %d: %v", i, err)
		}
		if len(state.Errors) > 0 {
			t.Fatalf("unexpected errors advancing from step %d: %#v", i, state.Errors)
		}
	}
}

func TestNextStaysOnStepWithErrors(t *testing.T) {
	h := newHarness(t, nil)
	id := h.startSession(t)

	state, err := h.svc.Next(context.Background(), id)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if state.Step != domain.StepIdentity {
		t.Fatalf("expected to stay on identity step, got %d", state.Step)
	}
	if state.Errors[validation.FieldFirstName] == "" {
		t.Fatalf("expected surfaced errors, got %#v", state.Errors)
	}
}

func TestUpdateFieldClearsItsError(t *testing.T) {
	h := newHarness(t, nil)
	id := h.startSession(t)

	if _, err := h.svc.Next(context.Background(), id); err != nil {
		t.Fatalf("next: %v", err)
	}
	state, err := h.svc.UpdateField(context.Background(), id, validation.FieldFirstName, "Asha")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, ok := state.Errors[validation.FieldFirstName]; ok {
		t.Fatalf("error must clear the instant the value changes: %#v", state.Errors)
	}
	if state.Errors[validation.FieldLastName] == "" {
		t.Fatalf("other field errors must be untouched: %#v", state.Errors)
	}
}

func TestErrorMayExistWhileUntouched(t *testing.T) {
	h := newHarness(t, nil)
	id := h.startSession(t)

	if _, err := h.svc.Next(context.Background(), id); err != nil {
		t.Fatalf("next: %v", err)
	}
	state, err := h.svc.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.Errors[validation.FieldFirstName] == "" {
		t.Fatalf("expected error in map, got %#v", state.Errors)
	}
	for _, field := range state.Touched {
		if field == validation.FieldFirstName {
			t.Fatalf("field must not be touched yet")
		}
	}

	state, err = h.svc.TouchField(context.Background(), id, validation.FieldFirstName)
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	found := false
	for _, field := range state.Touched {
		if field == validation.FieldFirstName {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected field in touched set, got %#v", state.Touched)
	}
}

func TestSubmitOnlyLegalFromFinalStep(t *testing.T) {
	h := newHarness(t, nil)
	id := h.startSession(t)
	h.fillValidRecord(t, id)

	if _, err := h.svc.Submit(context.Background(), id); !errors.Is(err, ErrNotOnFinalStep) {
		t.Fatalf("expected ErrNotOnFinalStep, got %v", err)
	}
	if h.gateway.totalCalls() != 0 {
		t.Fatalf("no gateway traffic expected, got %d calls", h.gateway.totalCalls())
	}
}

func TestSubmitWithInvalidStepNeverCallsGateway(t *testing.T) {
	h := newHarness(t, nil)
	id := h.startSession(t)
	h.fillValidRecord(t, id)
	h.walkToFinalStep(t, id)

	// Invalidate an earlier step after passing it.
	h.set(t, id, validation.FieldGrade, "")

	state, err := h.svc.Submit(context.Background(), id)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if state.Phase != PhaseEditing || state.Step != domain.StepAcademic {
		t.Fatalf("expected jump back to academic step, got phase=%s step=%d", state.Phase, state.Step)
	}
	if state.Errors[validation.FieldGrade] == "" {
		t.Fatalf("expected grade error, got %#v", state.Errors)
	}
	if h.gateway.totalCalls() != 0 {
		t.Fatalf("submit with an invalid step must never trigger a gateway call, got %d", h.gateway.totalCalls())
	}
	if state.Busy {
		t.Fatalf("busy must reset")
	}
}

func TestSubmitHappyPath(t *testing.T) {
	h := newHarness(t, nil)
	id := h.startSession(t)
	h.fillValidRecord(t, id)
	h.walkToFinalStep(t, id)

	state, err := h.svc.Submit(context.Background(), id)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if state.Phase != PhaseSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", state.Phase, state.FailureMessage)
	}
	if state.Busy {
		t.Fatalf("busy must reset at terminal state")
	}
	if state.PaymentCompleted {
		t.Fatalf("flag must clear after a successful commit")
	}

	if h.gateway.keyCalls != 1 || h.gateway.orderCalls != 1 || h.gateway.verifyCalls != 1 {
		t.Fatalf("expected one key/order/verify call, got %d/%d/%d",
			h.gateway.keyCalls, h.gateway.orderCalls, h.gateway.verifyCalls)
	}
	if h.widget.opens != 1 {
		t.Fatalf("expected one checkout open, got %d", h.widget.opens)
	}
	if h.widget.lastCfg.Key != "rzp_test_abc" || h.widget.lastCfg.OrderID != "order_1" {
		t.Fatalf("widget config not threaded: %+v", h.widget.lastCfg)
	}
	if h.widget.lastCfg.Prefill.Email != "asha@example.com" {
		t.Fatalf("expected prefill from record, got %+v", h.widget.lastCfg.Prefill)
	}

	if h.committer.calls != 1 {
		t.Fatalf("expected one commit, got %d", h.committer.calls)
	}
	password := h.committer.passwords[0]
	if len(password) != credentials.PasswordLength {
		t.Fatalf("expected %d character password, got %q", credentials.PasswordLength, password)
	}
	for _, r := range password {
		if !strings.ContainsRune(credentials.Alphabet, r) {
			t.Fatalf("password character %q outside alphabet", r)
		}
	}
}

func TestDuplicateEmailKeepsVerifiedPayment(t *testing.T) {
	h := newHarness(t, func(_ *fakeGateway, _ *fakeWidget, c *fakeCommitter) {
		c.outcomes = []domain.SubmissionOutcome{
			{Status: domain.SubmissionDuplicateEmail, Message: "This email is already registered"},
			{Status: domain.SubmissionAccepted},
		}
	})
	id := h.startSession(t)
	h.fillValidRecord(t, id)
	h.walkToFinalStep(t, id)

	state, err := h.svc.Submit(context.Background(), id)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if state.Phase != PhaseEditing || state.Step != domain.StepContact {
		t.Fatalf("expected return to contact step, got phase=%s step=%d", state.Phase, state.Step)
	}
	if state.Errors[validation.FieldEmail] != "This email is already registered" {
		t.Fatalf("expected targeted email error, got %#v", state.Errors)
	}
	if !state.PaymentCompleted {
		t.Fatalf("verified payment must survive the conflict")
	}
	if state.Record.GuardianName == "" {
		t.Fatalf("entered data must be preserved")
	}

	// Correct the email, walk forward, and resubmit: the flow skips straight
	// to commit without another order or verification.
	ordersBefore, verifiesBefore := h.gateway.orderCalls, h.gateway.verifyCalls
	h.set(t, id, validation.FieldEmail, "asha+new@example.com")
	for i := int(domain.StepContact); i < domain.StepCount-1; i++ {
		if _, err := h.svc.Next(context.Background(), id); err != nil {
			t.Fatalf("next: %v", err)
		}
	}

	state, err = h.svc.Submit(context.Background(), id)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if state.Phase != PhaseSucceeded {
		t.Fatalf("expected success, got %s", state.Phase)
	}
	if h.gateway.orderCalls != ordersBefore || h.gateway.verifyCalls != verifiesBefore {
		t.Fatalf("at-most-one-charge violated: orders %d→%d verifies %d→%d",
			ordersBefore, h.gateway.orderCalls, verifiesBefore, h.gateway.verifyCalls)
	}
	if h.committer.calls != 2 {
		t.Fatalf("expected two commit attempts, got %d", h.committer.calls)
	}
	if h.committer.passwords[0] == h.committer.passwords[1] {
		t.Fatalf("password must be regenerated per attempt")
	}
}

func TestCancelledCheckoutReturnsToEditing(t *testing.T) {
	h := newHarness(t, func(_ *fakeGateway, w *fakeWidget, _ *fakeCommitter) {
		w.err = gateway.ErrDismissed
	})
	id := h.startSession(t)
	h.fillValidRecord(t, id)
	h.walkToFinalStep(t, id)

	state, err := h.svc.Submit(context.Background(), id)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if state.Phase != PhaseEditing || state.Step != domain.LastStep {
		t.Fatalf("expected editing on last step, got phase=%s step=%d", state.Phase, state.Step)
	}
	if state.Busy {
		t.Fatalf("busy must reset on dismissal")
	}
	if state.PaymentCompleted {
		t.Fatalf("dismissal must not set the payment flag")
	}
	if state.FailureCode != "" {
		t.Fatalf("cancellation is not an error, got %q", state.FailureCode)
	}
	if h.gateway.verifyCalls != 0 || h.committer.calls != 0 {
		t.Fatalf("no verification or commit after dismissal")
	}
}

func TestWidgetLoadFailureAbortsBeforeOrder(t *testing.T) {
	h := newHarness(t, func(g *fakeGateway, _ *fakeWidget, _ *fakeCommitter) {
		g.loadOK = false
	})
	id := h.startSession(t)
	h.fillValidRecord(t, id)
	h.walkToFinalStep(t, id)

	state, err := h.svc.Submit(context.Background(), id)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if state.Phase != PhaseFailed || state.FailureCode != FailureGatewayUnavailable {
		t.Fatalf("expected gateway-unavailable failure, got %s/%s", state.Phase, state.FailureCode)
	}
	if h.gateway.orderCalls != 0 {
		t.Fatalf("flow must abort before any order is created, got %d orders", h.gateway.orderCalls)
	}
	if state.Busy {
		t.Fatalf("busy must reset")
	}
}

func TestVerificationRejectionIsTransportFailure(t *testing.T) {
	h := newHarness(t, func(g *fakeGateway, _ *fakeWidget, _ *fakeCommitter) {
		g.verify = domain.VerificationResult{Success: false, Message: "signature mismatch"}
	})
	id := h.startSession(t)
	h.fillValidRecord(t, id)
	h.walkToFinalStep(t, id)

	state, err := h.svc.Submit(context.Background(), id)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if state.Phase != PhaseFailed || state.FailureCode != FailureTransport {
		t.Fatalf("expected transport failure, got %s/%s", state.Phase, state.FailureCode)
	}
	if state.PaymentCompleted {
		t.Fatalf("unverified payment must not set the flag")
	}
	if h.committer.calls != 0 {
		t.Fatalf("commit must never run on an unverified receipt")
	}
}

func TestCommitTransportFailureRetriesWithoutRecharging(t *testing.T) {
	h := newHarness(t, func(_ *fakeGateway, _ *fakeWidget, c *fakeCommitter) {
		c.outcomes = []domain.SubmissionOutcome{
			{Status: domain.SubmissionTransportFailure, Message: "Bad Gateway"},
			{Status: domain.SubmissionAccepted},
		}
	})
	id := h.startSession(t)
	h.fillValidRecord(t, id)
	h.walkToFinalStep(t, id)

	state, err := h.svc.Submit(context.Background(), id)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if state.Phase != PhaseFailed || state.FailureCode != FailureTransport {
		t.Fatalf("expected transport failure, got %s/%s", state.Phase, state.FailureCode)
	}
	if !state.PaymentCompleted {
		t.Fatalf("verified payment must survive a commit transport failure")
	}

	ordersBefore := h.gateway.orderCalls
	state, err = h.svc.Submit(context.Background(), id)
	if err != nil {
		t.Fatalf("retry submit: %v", err)
	}
	if state.Phase != PhaseSucceeded {
		t.Fatalf("expected success on retry, got %s", state.Phase)
	}
	if h.gateway.orderCalls != ordersBefore {
		t.Fatalf("retry must not create another order")
	}
}

func TestSecondSubmitWhileBusyIsRejected(t *testing.T) {
	block := make(chan struct{})
	h := newHarness(t, func(_ *fakeGateway, w *fakeWidget, _ *fakeCommitter) {
		w.block = block
		w.err = gateway.ErrDismissed
	})
	id := h.startSession(t)
	h.fillValidRecord(t, id)
	h.walkToFinalStep(t, id)

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Submit(context.Background(), id)
		done <- err
	}()

	// Wait until the first submission suspends on the widget.
	deadline := time.After(2 * time.Second)
	for {
		state, err := h.svc.GetSession(context.Background(), id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if state.Phase == PhaseAwaitingPayment {
			if state.Checkout == nil || state.Checkout.OrderID == "" {
				t.Fatalf("expected checkout details while awaiting payment")
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("submission never reached awaiting payment, phase=%s", state.Phase)
		case <-time.After(time.Millisecond):
		}
	}

	if _, err := h.svc.Submit(context.Background(), id); !errors.Is(err, ErrSubmitInFlight) {
		t.Fatalf("expected ErrSubmitInFlight, got %v", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
}

func TestFreeTextIsCleanedBeforeCommit(t *testing.T) {
	h := newHarness(t, nil)
	id := h.startSession(t)
	h.fillValidRecord(t, id)
	h.set(t, id, validation.FieldFirstName, " <b>Asha</b> ")
	h.set(t, id, validation.FieldInterests, "<i>chess</i>, robotics")
	h.walkToFinalStep(t, id)

	if _, err := h.svc.Submit(context.Background(), id); err != nil {
		t.Fatalf("submit: %v", err)
	}
	record := h.committer.records[0]
	if record.FirstName != "Asha" {
		t.Fatalf("expected cleaned first name, got %q", record.FirstName)
	}
	if record.Interests[0] != "chess" {
		t.Fatalf("expected cleaned interests, got %#v", record.Interests)
	}
}

func TestUnknownSessionAndField(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.svc.GetSession(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	id := h.startSession(t)
	if _, err := h.svc.UpdateField(context.Background(), id, "favouriteColour", "blue"); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
}
