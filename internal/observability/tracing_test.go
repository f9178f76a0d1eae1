package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestInitTracingStdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{ServiceName: "agora-test", Exporter: "stdout", Writer: &buf})
	if err != nil {
		t.Fatalf("InitTracing() error = %v", err)
	}
	_, span := StartSpan(context.Background(), "crosspoll.gate")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
	if !strings.Contains(buf.String(), "crosspoll.gate") {
		t.Fatalf("exported spans missing crosspoll.gate: %q", buf.String())
	}
}

func TestInitTracingNoneAndUnknown(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{Exporter: "none"})
	if err != nil {
		t.Fatalf("InitTracing(none) error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
	if _, err := InitTracing(context.Background(), TracingConfig{Exporter: "zipkin"}); err == nil {
		t.Fatalf("InitTracing(zipkin) error = nil, want error")
	}
}
