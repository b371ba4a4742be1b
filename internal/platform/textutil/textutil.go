package textutil

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var strictPolicy = bluemonday.StrictPolicy()

// CleanText trims the value, NFC-normalises it, and strips any HTML markup.
// Free-text applicant fields pass through here before they reach the
// account-creation payload.
func CleanText(value string) string {
	value = strictPolicy.Sanitize(value)
	value = norm.NFC.String(value)
	return strings.TrimSpace(value)
}

// CleanAll applies CleanText to every element, dropping entries that end up
// empty.
func CleanAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if cleaned := CleanText(v); cleaned != "" {
			out = append(out, cleaned)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
