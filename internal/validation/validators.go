package validation

import (
	"regexp"
	"strings"
	"time"
)

// Validator messages shown inline against a single field. The dashboard and
// widget copy live in the presentation layer; these are the canonical texts.
const (
	msgRequired     = "This field is required"
	msgEmail        = "Enter a valid email address"
	msgPhone        = "Enter a valid phone number"
	msgDateOfBirth  = "Enter date of birth as YYYY-MM-DD"
	msgAgeOutOfBand = "Applicant must be between 5 and 25 years old"
)

const (
	minApplicantAge = 5
	maxApplicantAge = 25

	// DateLayout is the wire format for the date-of-birth field.
	DateLayout = "2006-01-02"
)

var (
	// emailPattern enforces a local@domain.tld shape: no whitespace, exactly
	// one @, and a dotted domain with a 2+ character label at the end.
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]{2,}$`)

	// phonePattern allows an optional leading + and common grouping
	// punctuation anywhere, including before the first digit. Digit count
	// is checked separately.
	phonePattern = regexp.MustCompile(`^\+?[0-9\s.()-]+$`)
)

// RequiredText returns a message when the trimmed value is empty.
func RequiredText(value string) string {
	if strings.TrimSpace(value) == "" {
		return msgRequired
	}
	return ""
}

// Email returns a message unless the value matches a local@domain.tld shape.
func Email(value string) string {
	if !emailPattern.MatchString(strings.TrimSpace(value)) {
		return msgEmail
	}
	return ""
}

// Phone returns a message unless the value is an international-capable
// number: optional leading +, grouping punctuation allowed, 3 to 14 digits.
func Phone(value string) string {
	value = strings.TrimSpace(value)
	if !phonePattern.MatchString(value) {
		return msgPhone
	}
	digits := 0
	for _, r := range value {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits < 3 || digits > 14 {
		return msgPhone
	}
	return ""
}

// DateOfBirth parses the value and checks that the birth date falls inside
// the admissible window relative to now: the applicant must have had their
// 5th birthday and must not be past their 25th. Both boundary days are
// admissible, so turning 25 today still passes and 25 years and one day
// does not.
func DateOfBirth(value string, now time.Time) string {
	born, err := time.Parse(DateLayout, strings.TrimSpace(value))
	if err != nil {
		return msgDateOfBirth
	}
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	earliest := day.AddDate(-maxApplicantAge, 0, 0)
	latest := day.AddDate(-minApplicantAge, 0, 0)
	if born.Before(earliest) || born.After(latest) {
		return msgAgeOutOfBand
	}
	return ""
}
