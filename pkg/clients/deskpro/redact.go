package deskpro

import "regexp"

// Redactor scrubs PII out of free-text ticket fields before they are
// handed to the warehouse.
type Redactor struct {
	email *regexp.Regexp
	phone *regexp.Regexp
	ssn   *regexp.Regexp
}

// NewRedactor creates a redactor with the standard PII patterns
func NewRedactor() *Redactor {
	return &Redactor{
		email: regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
		phone: regexp.MustCompile(`\+?\d{1,2}?[\s.\-]?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}\b`),
		ssn:   regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	}
}

// Redact replaces emails, phone numbers, and SSNs with placeholder tags
func (r *Redactor) Redact(text string) string {
	if text == "" {
		return text
	}
	text = r.email.ReplaceAllString(text, "[redacted-email]")
	text = r.ssn.ReplaceAllString(text, "[redacted-ssn]")
	text = r.phone.ReplaceAllString(text, "[redacted-phone]")
	return text
}
