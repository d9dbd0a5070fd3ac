package telemetry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitTracer(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := InitTracer("m365-proxy-test", "v0.0.0", &buf, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "conversation.AskQuestion")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "conversation.AskQuestion") {
		t.Errorf("exported spans missing span name: %s", out)
	}
	if !strings.Contains(out, "m365-proxy-test") {
		t.Errorf("exported spans missing service name: %s", out)
	}
}

func TestNoop(t *testing.T) {
	if err := Noop(context.Background()); err != nil {
		t.Errorf("Noop() error = %v", err)
	}
}
