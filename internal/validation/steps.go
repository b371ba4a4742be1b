package validation

import (
	"time"

	"github.com/brightpath-academy/enroll/internal/domain"
)

// Field names shared between the validators, the orchestrator, and the
// session API. The presentation layer keys its inputs by the same names.
const (
	FieldFirstName     = "firstName"
	FieldLastName      = "lastName"
	FieldDateOfBirth   = "dateOfBirth"
	FieldEmail         = "email"
	FieldPhone         = "phone"
	FieldGrade         = "grade"
	FieldSchool        = "school"
	FieldGuardianName  = "guardianName"
	FieldGuardianEmail = "guardianEmail"
	FieldGuardianPhone = "guardianPhone"
	FieldInterests     = "interests"
	FieldPlan          = "plan"
)

// ValidateStep runs the field validators relevant to one wizard step and
// returns the resulting error map. An empty map means the step passes.
// Callers replace their current error state with the result; errors from
// other steps are never retained across calls.
func ValidateStep(step domain.WizardStep, record domain.ApplicantRecord, now time.Time) domain.FieldErrors {
	errs := domain.FieldErrors{}
	put := func(field, msg string) {
		if msg != "" {
			errs[field] = msg
		}
	}

	switch step {
	case domain.StepIdentity:
		put(FieldFirstName, RequiredText(record.FirstName))
		put(FieldLastName, RequiredText(record.LastName))
		if msg := RequiredText(record.DateOfBirth); msg != "" {
			put(FieldDateOfBirth, msg)
		} else {
			put(FieldDateOfBirth, DateOfBirth(record.DateOfBirth, now))
		}
	case domain.StepContact:
		if msg := RequiredText(record.Email); msg != "" {
			put(FieldEmail, msg)
		} else {
			put(FieldEmail, Email(record.Email))
		}
		// Phone is optional but must be valid when present.
		if record.Phone != "" {
			put(FieldPhone, Phone(record.Phone))
		}
	case domain.StepAcademic:
		put(FieldGrade, RequiredText(record.Grade))
	case domain.StepGuardian:
		put(FieldGuardianName, RequiredText(record.GuardianName))
		if msg := RequiredText(record.GuardianEmail); msg != "" {
			put(FieldGuardianEmail, msg)
		} else {
			put(FieldGuardianEmail, Email(record.GuardianEmail))
		}
		if msg := RequiredText(record.GuardianPhone); msg != "" {
			put(FieldGuardianPhone, msg)
		} else {
			put(FieldGuardianPhone, Phone(record.GuardianPhone))
		}
	case domain.StepInterests, domain.StepPlan:
		// No mandatory fields; these steps always pass.
	}

	return errs
}

// ValidateAll re-validates every step in order and returns the first step
// with a non-empty error map alongside that map. It returns ok=true when the
// whole record passes.
func ValidateAll(record domain.ApplicantRecord, now time.Time) (domain.WizardStep, domain.FieldErrors, bool) {
	for step := domain.StepIdentity; int(step) < domain.StepCount; step++ {
		if errs := ValidateStep(step, record, now); len(errs) > 0 {
			return step, errs, false
		}
	}
	return domain.LastStep, domain.FieldErrors{}, true
}
