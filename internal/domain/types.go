package domain

import (
	"maps"
	"slices"
	"time"
)

// WizardStep indexes one of the fixed ordered sections of the enrollment form.
type WizardStep int

const (
	// StepIdentity collects first name, last name, and date of birth.
	StepIdentity WizardStep = iota
	// StepContact collects the applicant's email and optional phone number.
	StepContact
	// StepAcademic collects grade and school details.
	StepAcademic
	// StepGuardian collects guardian name and contact details.
	StepGuardian
	// StepInterests collects free-form interests; it has no mandatory fields.
	StepInterests
	// StepPlan selects the payment plan; it has no mandatory fields.
	StepPlan

	// StepCount is the number of wizard steps.
	StepCount = int(StepPlan) + 1
)

// LastStep is the final wizard step, the only one from which submission is legal.
const LastStep = WizardStep(StepCount - 1)

// ApplicantRecord aggregates everything collected from a prospective student
// over one wizard session. The orchestrator owns it exclusively and replaces
// it wholesale on every field update; other components only ever read copies.
type ApplicantRecord struct {
	FirstName     string
	LastName      string
	DateOfBirth   string
	Email         string
	Phone         string
	Grade         string
	School        string
	GuardianName  string
	GuardianEmail string
	GuardianPhone string
	Interests     []string
	Plan          string
}

// Clone returns a copy sharing no mutable state with the receiver.
func (r ApplicantRecord) Clone() ApplicantRecord {
	out := r
	out.Interests = slices.Clone(r.Interests)
	return out
}

// FullName joins the applicant's first and last names for display and
// gateway prefill purposes.
func (r ApplicantRecord) FullName() string {
	switch {
	case r.FirstName == "":
		return r.LastName
	case r.LastName == "":
		return r.FirstName
	default:
		return r.FirstName + " " + r.LastName
	}
}

// FieldErrors maps a field name to a human-readable message. Keys exist only
// for currently-invalid fields.
type FieldErrors map[string]string

// Clone returns an independent copy of the error map.
func (e FieldErrors) Clone() FieldErrors {
	if e == nil {
		return nil
	}
	return maps.Clone(e)
}

// TouchedSet records which fields the user has blurred at least once. It
// controls error visibility only; validation never consults it.
type TouchedSet map[string]struct{}

// Add marks the field as touched.
func (s TouchedSet) Add(field string) { s[field] = struct{}{} }

// Has reports whether the field has been touched.
func (s TouchedSet) Has(field string) bool {
	_, ok := s[field]
	return ok
}

// Fields returns the touched field names in sorted order.
func (s TouchedSet) Fields() []string {
	out := make([]string, 0, len(s))
	for field := range s {
		out = append(out, field)
	}
	slices.Sort(out)
	return out
}

// PaymentIntent is the transient per-attempt checkout context bound to a
// server-side order. It is discarded once the attempt resolves.
type PaymentIntent struct {
	GatewayKey string
	OrderID    string
	Amount     int64
	Currency   string
	CreatedAt  time.Time
}

// PaymentReceipt is the triple returned by the checkout widget after a
// completed charge. It is consumed exactly once by server-side verification
// and never reused across submission attempts.
type PaymentReceipt struct {
	OrderID   string
	PaymentID string
	Signature string
}

// VerificationResult reports the server-side judgement on a payment receipt.
// A response with Success=false is a transport failure, never a success,
// regardless of what the widget claimed client-side.
type VerificationResult struct {
	Success bool
	Message string
}

// SubmissionStatus classifies the account-creation call's result.
type SubmissionStatus string

const (
	// SubmissionAccepted means the backend created the account.
	SubmissionAccepted SubmissionStatus = "accepted"
	// SubmissionDuplicateEmail means an account with this email already exists.
	SubmissionDuplicateEmail SubmissionStatus = "duplicate_email"
	// SubmissionTransportFailure covers network errors, unexpected statuses,
	// and malformed responses.
	SubmissionTransportFailure SubmissionStatus = "transport_failure"
)

// SubmissionOutcome is the typed result of the account-creation call.
type SubmissionOutcome struct {
	Status  SubmissionStatus
	Message string
}

// Plan describes a selectable payment plan and its one-time charge.
type Plan struct {
	ID       string
	Label    string
	Amount   int64
	Currency string
}
