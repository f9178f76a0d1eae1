package policy

import "regexp"

// PII kinds reported by Redact.
const (
	PIIURL    = "url"
	PIIEmail  = "email"
	PIICard   = "card"
	PIIPhone  = "phone"
	PIIHandle = "handle"
)

type piiRule struct {
	kind        string
	pattern     *regexp.Regexp
	replacement string
}

// Rules run in order: URLs can embed emails and digits, and card numbers
// would otherwise match the phone rule.
var piiRules = []piiRule{
	{PIIURL, regexp.MustCompile(`\bhttps?://[^\s<>"]+`), "[REDACTED_URL]"},
	{PIIEmail, regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{PIICard, regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{PIIPhone, regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
	{PIIHandle, regexp.MustCompile(`(^|[\s(])@[A-Za-z0-9_]{2,30}\b`), "${1}[REDACTED_HANDLE]"},
}

// Redact masks contact details that would identify a participant to the
// others in a session. It returns the kinds it masked, in rule order.
func Redact(input string) (string, []string) {
	out := input
	var kinds []string
	for _, rule := range piiRules {
		next := rule.pattern.ReplaceAllString(out, rule.replacement)
		if next != out {
			kinds = append(kinds, rule.kind)
			out = next
		}
	}
	return out, kinds
}
