package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestParseClientMessageUserMessage(t *testing.T) {
	raw := []byte(`{"type":"user_message","thread_id":"t1","client_msg_id":"c-9","content":"  I think rent matters most.  "}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	um, ok := msg.(UserMessage)
	if !ok {
		t.Fatalf("message type = %T, want UserMessage", msg)
	}
	if um.ThreadID != "t1" || um.ClientMsgID != "c-9" {
		t.Fatalf("unexpected user message: %+v", um)
	}
	if um.Content != "I think rent matters most." {
		t.Fatalf("Content = %q, want trimmed content", um.Content)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","thread_id":"t1","action":"ping"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.ThreadID != "t1" || control.Action != "ping" {
		t.Fatalf("unexpected client control: %+v", control)
	}
}

func TestParseClientMessageRejectsInvalidUserMessage(t *testing.T) {
	tests := map[string]string{
		"blank content":  `{"type":"user_message","thread_id":"t1","content":"   "}`,
		"missing thread": `{"type":"user_message","content":"hi"}`,
		"too large":      `{"type":"user_message","thread_id":"t1","content":"` + strings.Repeat("a", MaxContentBytes+1) + `"}`,
		"bad json":       `{"type":`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseClientMessage([]byte(raw)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func BenchmarkParseClientMessageUserMessage(b *testing.B) {
	raw := []byte(`{"type":"user_message","thread_id":"t1","client_msg_id":"c1","content":"We should look at the east side."}`)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := ParseClientMessage(raw); err != nil {
			b.Fatal(err)
		}
	}
}
