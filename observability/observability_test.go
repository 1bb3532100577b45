package observability

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestNopTracer(t *testing.T) {
	tracer := NopTracer()
	ctx := context.Background()
	ctx2, span := tracer.StartSpan(ctx, "test")
	if ctx2 != ctx {
		t.Fatalf("nop tracer should return same context")
	}
	span.SetTag("key", "value")
	span.SetError(nil)
	span.Finish()
}

func TestLogrusFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewTextLogger(&buf, true).With(Stage("crop"))
	log.Warn("crop out of bounds", Page(4), Err(errors.New("boom")))

	out := buf.String()
	for _, want := range []string{"crop out of bounds", "stage=crop", "page=4", "error=boom"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}

func TestLogTracerReportsErrors(t *testing.T) {
	var buf bytes.Buffer
	tracer := LogTracer(NewTextLogger(&buf, false))
	_, span := tracer.StartSpan(context.Background(), SpanMerge)
	span.SetTag("groups", 3)
	span.SetError(errors.New("group 2 failed"))
	span.Finish()

	out := buf.String()
	if !strings.Contains(out, "span failed") || !strings.Contains(out, SpanMerge) {
		t.Fatalf("unexpected tracer output: %q", out)
	}
	if !strings.Contains(out, "groups=3") {
		t.Fatalf("expected span tag in output: %q", out)
	}
}

func TestLogTracerQuietOnSuccess(t *testing.T) {
	var buf bytes.Buffer
	tracer := LogTracer(NewTextLogger(&buf, false))
	_, span := tracer.StartSpan(context.Background(), SpanSplit)
	span.Finish()
	if buf.Len() != 0 {
		t.Fatalf("expected no output at info level, got %q", buf.String())
	}
}
