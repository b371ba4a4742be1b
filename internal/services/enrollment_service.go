package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/brightpath-academy/enroll/internal/credentials"
	"github.com/brightpath-academy/enroll/internal/domain"
	"github.com/brightpath-academy/enroll/internal/gateway"
	"github.com/brightpath-academy/enroll/internal/platform/textutil"
	"github.com/brightpath-academy/enroll/internal/registrar"
	"github.com/brightpath-academy/enroll/internal/validation"
)

var (
	// ErrSessionNotFound indicates an unknown or expired session id.
	ErrSessionNotFound = errors.New("enrollment: session not found")
	// ErrUnknownField indicates a field name outside the wizard's schema.
	ErrUnknownField = errors.New("enrollment: unknown field")
	// ErrActionNotAllowed indicates an action that is illegal in the
	// session's current phase.
	ErrActionNotAllowed = errors.New("enrollment: action not allowed in current phase")
	// ErrSubmitInFlight indicates a submission is already running for the
	// session; at most one is in flight at a time.
	ErrSubmitInFlight = errors.New("enrollment: submission already in flight")
	// ErrNotOnFinalStep indicates Submit was invoked before the last step.
	ErrNotOnFinalStep = errors.New("enrollment: submit is only legal on the final step")
)

// EnrollmentServiceDeps wires the dependencies required by the orchestrator.
type EnrollmentServiceDeps struct {
	Gateway     gateway.Provider
	Widget      gateway.Widget
	Committer   registrar.Committer
	Credentials *credentials.Generator
	Plans       map[string]Plan
	DefaultPlan string
	// OrgName, OrgDescription, and ThemeColor brand the checkout widget.
	OrgName        string
	OrgDescription string
	ThemeColor     string
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
	// NewID overrides session/receipt id generation in tests.
	NewID func() string
}

type enrollmentService struct {
	gateway     gateway.Provider
	widget      gateway.Widget
	committer   registrar.Committer
	credentials *credentials.Generator
	plans       map[string]Plan
	defaultPlan string
	orgName     string
	orgDesc     string
	themeColor  string
	now         func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
	newID       func() string

	submissions metric.Int64Counter
	outcomes    metric.Int64Counter

	mu       sync.RWMutex
	sessions map[string]*session
}

// session is the orchestrator-owned mutable state for one wizard lifetime.
// All mutation happens under mu; blocking calls release it.
type session struct {
	mu sync.Mutex

	id               string
	phase            Phase
	step             domain.WizardStep
	record           domain.ApplicantRecord
	errors           domain.FieldErrors
	touched          domain.TouchedSet
	busy             bool
	paymentCompleted bool
	failureCode      string
	failureMessage   string
	checkout         *CheckoutDetails
}

// NewEnrollmentService constructs the orchestrator, validating required
// dependencies.
func NewEnrollmentService(deps EnrollmentServiceDeps) (EnrollmentService, error) {
	if deps.Gateway == nil {
		return nil, errors.New("enrollment service: gateway provider is required")
	}
	if deps.Widget == nil {
		return nil, errors.New("enrollment service: checkout widget is required")
	}
	if deps.Committer == nil {
		return nil, errors.New("enrollment service: committer is required")
	}
	if deps.Credentials == nil {
		return nil, errors.New("enrollment service: credential generator is required")
	}
	if len(deps.Plans) == 0 {
		return nil, errors.New("enrollment service: at least one plan is required")
	}
	defaultPlan := strings.TrimSpace(deps.DefaultPlan)
	if _, ok := deps.Plans[defaultPlan]; !ok {
		return nil, fmt.Errorf("enrollment service: default plan %q is not configured", deps.DefaultPlan)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	newID := deps.NewID
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}

	meter := otel.Meter("github.com/brightpath-academy/enroll/internal/services")
	submissions, err := meter.Int64Counter("enrollment.submissions")
	if err != nil {
		return nil, fmt.Errorf("enrollment service: submissions counter: %w", err)
	}
	outcomes, err := meter.Int64Counter("enrollment.submission_outcomes")
	if err != nil {
		return nil, fmt.Errorf("enrollment service: outcomes counter: %w", err)
	}

	return &enrollmentService{
		gateway:     deps.Gateway,
		widget:      deps.Widget,
		committer:   deps.Committer,
		credentials: deps.Credentials,
		plans:       deps.Plans,
		defaultPlan: defaultPlan,
		orgName:     deps.OrgName,
		orgDesc:     deps.OrgDescription,
		themeColor:  deps.ThemeColor,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:      logger,
		newID:       newID,
		submissions: submissions,
		outcomes:    outcomes,
		sessions:    make(map[string]*session),
	}, nil
}

// StartSession creates a fresh wizard session on the first step.
func (s *enrollmentService) StartSession(context.Context) (SessionState, error) {
	sess := &session{
		id:      s.newID(),
		phase:   PhaseEditing,
		step:    domain.StepIdentity,
		errors:  domain.FieldErrors{},
		touched: domain.TouchedSet{},
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	return snapshot(sess), nil
}

// GetSession returns the current emitted state for the session.
func (s *enrollmentService) GetSession(_ context.Context, sessionID string) (SessionState, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return SessionState{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return snapshot(sess), nil
}

// UpdateField replaces one field's value. The record is replaced wholesale
// (copy-on-write) and the field's error, if any, is cleared the instant the
// value changes.
func (s *enrollmentService) UpdateField(_ context.Context, sessionID, field, value string) (SessionState, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return SessionState{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.busy || sess.phase == PhaseSucceeded {
		return snapshot(sess), ErrActionNotAllowed
	}

	record := sess.record.Clone()
	if !setField(&record, field, value) {
		return snapshot(sess), fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	sess.record = record

	errs := sess.errors.Clone()
	delete(errs, field)
	sess.errors = errs

	// Editing after a failed attempt resumes the wizard.
	if sess.phase == PhaseFailed {
		sess.phase = PhaseEditing
		sess.failureCode, sess.failureMessage = "", ""
	}
	return snapshot(sess), nil
}

// TouchField records that the user blurred the field at least once. It only
// affects error visibility; validation never consults it.
func (s *enrollmentService) TouchField(_ context.Context, sessionID, field string) (SessionState, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return SessionState{}, err
	}
	if !knownField(field) {
		return SessionState{}, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.touched.Add(field)
	return snapshot(sess), nil
}

// Next validates the current step and advances only when its error map is
// empty; otherwise the session stays on the step and surfaces the errors.
func (s *enrollmentService) Next(_ context.Context, sessionID string) (SessionState, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return SessionState{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.busy || (sess.phase != PhaseEditing && sess.phase != PhaseFailed) {
		return snapshot(sess), ErrActionNotAllowed
	}
	if sess.phase == PhaseFailed {
		sess.phase = PhaseEditing
		sess.failureCode, sess.failureMessage = "", ""
	}

	errs := validation.ValidateStep(sess.step, sess.record, s.now())
	sess.errors = errs
	if len(errs) > 0 {
		return snapshot(sess), nil
	}
	if sess.step < domain.LastStep {
		sess.step++
	}
	return snapshot(sess), nil
}

// Back returns to the previous step without validating.
func (s *enrollmentService) Back(_ context.Context, sessionID string) (SessionState, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return SessionState{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.busy || (sess.phase != PhaseEditing && sess.phase != PhaseFailed) {
		return snapshot(sess), ErrActionNotAllowed
	}
	if sess.phase == PhaseFailed {
		sess.phase = PhaseEditing
		sess.failureCode, sess.failureMessage = "", ""
	}
	if sess.step > domain.StepIdentity {
		sess.step--
	}
	return snapshot(sess), nil
}

// Submit runs the commit protocol: full re-validation, the payment flow
// (skipped entirely when a previous attempt already verified payment), and
// the account-creation commit. The busy flag is held from entry until a
// terminal state so a second Submit cannot run concurrently.
func (s *enrollmentService) Submit(ctx context.Context, sessionID string) (SessionState, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return SessionState{}, err
	}

	sess.mu.Lock()
	if sess.busy {
		state := snapshot(sess)
		sess.mu.Unlock()
		return state, ErrSubmitInFlight
	}
	if sess.phase != PhaseEditing && sess.phase != PhaseFailed {
		state := snapshot(sess)
		sess.mu.Unlock()
		return state, ErrActionNotAllowed
	}
	if sess.phase == PhaseEditing && sess.step != domain.LastStep {
		state := snapshot(sess)
		sess.mu.Unlock()
		return state, ErrNotOnFinalStep
	}
	sess.busy = true
	sess.phase = PhaseFinalValidating
	sess.failureCode, sess.failureMessage = "", ""
	record := sess.record.Clone()
	paymentCompleted := sess.paymentCompleted
	sess.mu.Unlock()

	s.submissions.Add(ctx, 1)

	// Final validation sweeps every step in order; the first failure jumps
	// the wizard back to that step with no gateway traffic at all.
	if step, errs, ok := validation.ValidateAll(record, s.now()); !ok {
		return s.conclude(sess, func(sess *session) {
			sess.phase = PhaseEditing
			sess.step = step
			sess.errors = errs
		}), nil
	}

	if !paymentCompleted {
		state, proceed := s.runPaymentFlow(ctx, sess, record)
		if !proceed {
			return state, nil
		}
	}

	return s.commit(ctx, sess, record), nil
}

// runPaymentFlow walks key fetch, widget load, order creation, the checkout
// suspension, and verification. It reports proceed=false when the session
// reached a non-committing state (failure or cancellation).
func (s *enrollmentService) runPaymentFlow(ctx context.Context, sess *session, record domain.ApplicantRecord) (SessionState, bool) {
	s.setPhase(sess, PhaseRequestingKey)
	key, err := s.gateway.FetchPublicKey(ctx)
	if err != nil {
		s.logger(ctx, "enrollment.key_fetch_failed", map[string]any{"session_id": sess.id, "error": err.Error()})
		return s.fail(sess, FailureGatewayUnavailable, "payment gateway is unavailable"), false
	}

	s.setPhase(sess, PhaseLoadingWidget)
	if !s.gateway.LoadWidget(ctx) {
		s.logger(ctx, "enrollment.widget_load_failed", map[string]any{"session_id": sess.id})
		return s.fail(sess, FailureGatewayUnavailable, "checkout widget failed to load"), false
	}

	plan := s.planFor(record)
	s.setPhase(sess, PhaseCreatingOrder)
	intent, err := s.gateway.CreateOrder(ctx, gateway.OrderRequest{
		Amount:        plan.Amount,
		Currency:      plan.Currency,
		Receipt:       "enroll_" + s.newID(),
		CustomerName:  record.FullName(),
		CustomerEmail: record.Email,
	})
	if err != nil {
		s.logger(ctx, "enrollment.order_failed", map[string]any{"session_id": sess.id, "error": err.Error()})
		return s.fail(sess, FailureTransport, "could not create payment order"), false
	}
	intent.GatewayKey = key

	cfg := gateway.CheckoutConfig{
		Key:         key,
		Amount:      intent.Amount,
		Currency:    intent.Currency,
		Name:        s.orgName,
		Description: s.orgDesc,
		OrderID:     intent.OrderID,
		ThemeColor:  s.themeColor,
		Prefill: gateway.Prefill{
			Name:    record.FullName(),
			Email:   record.Email,
			Contact: record.Phone,
		},
	}

	sess.mu.Lock()
	sess.phase = PhaseAwaitingPayment
	sess.checkout = &CheckoutDetails{
		Key:         key,
		OrderID:     intent.OrderID,
		Amount:      intent.Amount,
		Currency:    intent.Currency,
		Name:        s.orgName,
		Description: s.orgDesc,
		ThemeColor:  s.themeColor,
		Prefill: CheckoutPrefill{
			Name:    record.FullName(),
			Email:   record.Email,
			Contact: record.Phone,
		},
	}
	sess.mu.Unlock()

	// Single suspend point: exactly one of completion or dismissal resolves
	// it. The interaction window has no timeout of its own.
	receipt, err := s.widget.Open(ctx, cfg)
	if errors.Is(err, gateway.ErrDismissed) {
		s.logger(ctx, "enrollment.checkout_dismissed", map[string]any{"session_id": sess.id, "order_id": intent.OrderID})
		return s.conclude(sess, func(sess *session) {
			sess.phase = PhaseEditing
			sess.step = domain.LastStep
			sess.checkout = nil
		}), false
	}
	if err != nil {
		s.logger(ctx, "enrollment.checkout_failed", map[string]any{"session_id": sess.id, "error": err.Error()})
		return s.fail(sess, FailureTransport, "checkout was interrupted"), false
	}

	s.setPhase(sess, PhaseVerifyingPayment)
	result, err := s.gateway.VerifyPayment(ctx, receipt)
	if err != nil || !result.Success {
		s.logger(ctx, "enrollment.verification_failed", map[string]any{
			"session_id": sess.id,
			"order_id":   receipt.OrderID,
		})
		return s.fail(sess, FailureTransport, "payment verification failed"), false
	}

	sess.mu.Lock()
	sess.paymentCompleted = true
	sess.checkout = nil
	sess.mu.Unlock()

	return SessionState{}, true
}

// commit generates a fresh password, issues the account-creation call, and
// interprets the typed outcome.
func (s *enrollmentService) commit(ctx context.Context, sess *session, record domain.ApplicantRecord) SessionState {
	s.setPhase(sess, PhaseCommitting)

	password, err := s.credentials.Generate()
	if err != nil {
		s.logger(ctx, "enrollment.password_failed", map[string]any{"session_id": sess.id, "error": err.Error()})
		return s.fail(sess, FailureTransport, "account creation failed")
	}

	outcome := s.committer.Commit(ctx, cleanRecord(record), password)
	s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome.Status))))

	switch outcome.Status {
	case domain.SubmissionAccepted:
		return s.conclude(sess, func(sess *session) {
			sess.phase = PhaseSucceeded
			sess.paymentCompleted = false
			sess.errors = domain.FieldErrors{}
		})
	case domain.SubmissionDuplicateEmail:
		// The verified payment survives the conflict: the flag stays set so
		// a corrected retry skips straight to commit and never re-charges.
		return s.conclude(sess, func(sess *session) {
			sess.phase = PhaseEditing
			sess.step = domain.StepContact
			sess.errors = domain.FieldErrors{validation.FieldEmail: outcome.Message}
		})
	default:
		return s.fail(sess, FailureTransport, outcome.Message)
	}
}

func (s *enrollmentService) lookup(sessionID string) (*session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[strings.TrimSpace(sessionID)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *enrollmentService) planFor(record domain.ApplicantRecord) Plan {
	if plan, ok := s.plans[record.Plan]; ok {
		return plan
	}
	return s.plans[s.defaultPlan]
}

func (s *enrollmentService) setPhase(sess *session, phase Phase) {
	sess.mu.Lock()
	sess.phase = phase
	sess.mu.Unlock()
}

// conclude applies a terminal mutation, clears the busy flag, and returns
// the emitted snapshot.
func (s *enrollmentService) conclude(sess *session, mutate func(*session)) SessionState {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	mutate(sess)
	sess.busy = false
	sess.checkout = nil
	return snapshot(sess)
}

func (s *enrollmentService) fail(sess *session, code, message string) SessionState {
	return s.conclude(sess, func(sess *session) {
		sess.phase = PhaseFailed
		sess.failureCode = code
		sess.failureMessage = message
	})
}

// cleanRecord applies input hygiene to free-text fields before the record
// leaves the process.
func cleanRecord(record domain.ApplicantRecord) domain.ApplicantRecord {
	record.FirstName = textutil.CleanText(record.FirstName)
	record.LastName = textutil.CleanText(record.LastName)
	record.School = textutil.CleanText(record.School)
	record.GuardianName = textutil.CleanText(record.GuardianName)
	record.Interests = textutil.CleanAll(record.Interests)
	return record
}

func snapshot(sess *session) SessionState {
	state := SessionState{
		ID:               sess.id,
		Phase:            sess.phase,
		Step:             sess.step,
		Record:           sess.record.Clone(),
		Errors:           sess.errors.Clone(),
		Touched:          sess.touched.Fields(),
		Busy:             sess.busy,
		PaymentCompleted: sess.paymentCompleted,
		FailureCode:      sess.failureCode,
		FailureMessage:   sess.failureMessage,
	}
	if sess.checkout != nil {
		checkout := *sess.checkout
		state.Checkout = &checkout
	}
	return state
}

func knownField(field string) bool {
	switch field {
	case validation.FieldFirstName, validation.FieldLastName, validation.FieldDateOfBirth,
		validation.FieldEmail, validation.FieldPhone, validation.FieldGrade, validation.FieldSchool,
		validation.FieldGuardianName, validation.FieldGuardianEmail, validation.FieldGuardianPhone,
		validation.FieldInterests, validation.FieldPlan:
		return true
	default:
		return false
	}
}

func setField(record *domain.ApplicantRecord, field, value string) bool {
	switch field {
	case validation.FieldFirstName:
		record.FirstName = value
	case validation.FieldLastName:
		record.LastName = value
	case validation.FieldDateOfBirth:
		record.DateOfBirth = value
	case validation.FieldEmail:
		record.Email = value
	case validation.FieldPhone:
		record.Phone = value
	case validation.FieldGrade:
		record.Grade = value
	case validation.FieldSchool:
		record.School = value
	case validation.FieldGuardianName:
		record.GuardianName = value
	case validation.FieldGuardianEmail:
		record.GuardianEmail = value
	case validation.FieldGuardianPhone:
		record.GuardianPhone = value
	case validation.FieldInterests:
		record.Interests = splitInterests(value)
	case validation.FieldPlan:
		record.Plan = strings.TrimSpace(value)
	default:
		return false
	}
	return true
}

func splitInterests(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
