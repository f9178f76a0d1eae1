package policy

import (
	"strings"
	"testing"
)

func TestRedactMasksContactDetails(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, kinds := Redact(input)
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
	want := []string{PIIEmail, PIICard, PIIPhone}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
}

func TestRedactURLsAndHandles(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"url", "see https://intranet.example.com/u/sam?id=42 for my notes", "see [REDACTED_URL] for my notes"},
		{"handle", "ping @sam_r about it", "ping [REDACTED_HANDLE] about it"},
		{"leading handle", "@lee agreed", "[REDACTED_HANDLE] agreed"},
		{"email is not a handle", "write to a@b.io", "write to [REDACTED_EMAIL]"},
		{"plain text", "the rent is too high", "the rent is too high"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Redact(tt.in)
			if got != tt.want {
				t.Fatalf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRedactReportsNothingForCleanInput(t *testing.T) {
	if _, kinds := Redact("nothing to hide here"); len(kinds) != 0 {
		t.Fatalf("kinds = %v, want none", kinds)
	}
}
