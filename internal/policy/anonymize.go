package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// FacilitatorLabel replaces second-person references in anonymized text.
const FacilitatorLabel = "Facilitator"

// Longer alternatives come first so contractions win over their stems.
var pronounPattern = regexp.MustCompile(`(?i)\b(i['’]m|i['’]ve|i['’]d|i['’]ll|we['’]re|we['’]ve|we['’]d|we['’]ll|you['’]re|you['’]ve|you['’]d|you['’]ll|myself|mine|my|me|i|ourselves|ours|our|us|we|yourselves|yourself|yours|your|you)\b`)

// Anonymizer rewrites first, second and first-plural person references to
// neutral labels. It is a lexical scrub: names, places and distinctive
// phrasing pass through untouched.
type Anonymizer struct {
	participant string
	group       string
}

// NewAnonymizer returns an anonymizer whose placeholders carry index n, which
// must be stable for one source thread within a prompt.
func NewAnonymizer(n int) Anonymizer {
	return Anonymizer{
		participant: fmt.Sprintf("Participant-%d", n),
		group:       fmt.Sprintf("Group-%d", n),
	}
}

// Participant is the placeholder used for first-person singular references.
func (a Anonymizer) Participant() string { return a.participant }

// Anonymize redacts PII and then scrubs pronouns.
func (a Anonymizer) Anonymize(input string) string {
	redacted, _ := Redact(input)
	return a.Scrub(redacted)
}

// Scrub replaces pronouns only.
func (a Anonymizer) Scrub(input string) string {
	var b strings.Builder
	last := 0
	for _, loc := range pronounPattern.FindAllStringIndex(input, -1) {
		match := input[loc[0]:loc[1]]
		b.WriteString(input[last:loc[0]])
		if isAbbreviation(input, loc[1]) {
			b.WriteString(match)
		} else {
			b.WriteString(a.replace(match))
		}
		last = loc[1]
	}
	b.WriteString(input[last:])
	return b.String()
}

// isAbbreviation reports whether the match ending at end is followed by a
// dot and a letter, as the "i" of "i.e.".
func isAbbreviation(input string, end int) bool {
	if end+1 >= len(input) || input[end] != '.' {
		return false
	}
	c := input[end+1]
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func (a Anonymizer) replace(match string) string {
	// All-caps US is almost always the country.
	if match == "US" {
		return match
	}
	key := strings.ReplaceAll(strings.ToLower(match), "’", "'")
	switch key {
	case "i", "me", "myself":
		return a.participant
	case "my", "mine":
		return a.participant + "'s"
	case "i'm":
		return a.participant + " is"
	case "i've":
		return a.participant + " has"
	case "i'd":
		return a.participant + " would"
	case "i'll":
		return a.participant + " will"
	case "we", "us", "ourselves":
		return a.group
	case "our", "ours":
		return a.group + "'s"
	case "we're":
		return a.group + " are"
	case "we've":
		return a.group + " have"
	case "we'd":
		return a.group + " would"
	case "we'll":
		return a.group + " will"
	case "you", "yourself", "yourselves":
		return FacilitatorLabel
	case "your", "yours":
		return FacilitatorLabel + "'s"
	case "you're":
		return FacilitatorLabel + " is"
	case "you've":
		return FacilitatorLabel + " has"
	case "you'd":
		return FacilitatorLabel + " would"
	case "you'll":
		return FacilitatorLabel + " will"
	default:
		return match
	}
}
