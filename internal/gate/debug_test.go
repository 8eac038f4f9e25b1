package gate

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetLogWriters_Enable(t *testing.T) {
	var buf bytes.Buffer
	SetLogWriters(LogWriters{Ops: &buf})
	defer SetLogWriters(LogWriters{})

	if opsLogger == nil {
		t.Fatal("opsLogger should be non-nil after SetLogWriters with a writer")
	}
	if diagLogger != nil {
		t.Fatal("diagLogger should be nil when passed nil writer")
	}
	if traceLogger != nil {
		t.Fatal("traceLogger should be nil when passed nil writer")
	}
}

func TestSetLogWriters_Disable(t *testing.T) {
	var buf bytes.Buffer
	SetLogWriters(LogWriters{Ops: &buf, Diag: &buf, Trace: &buf})
	SetLogWriters(LogWriters{})

	if opsLogger != nil || diagLogger != nil || traceLogger != nil {
		t.Fatal("all loggers should be nil after SetLogWriters with zero value")
	}
}

func TestOpsf_WithLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLogWriters(LogWriters{Ops: &buf})
	defer SetLogWriters(LogWriters{})

	Opsf("test %s %d", "msg", 1)

	output := buf.String()
	if !strings.Contains(output, "test msg 1") {
		t.Errorf("expected output to contain 'test msg 1', got %q", output)
	}
	if !strings.Contains(output, "[gate]") {
		t.Errorf("expected output to contain '[gate]' prefix, got %q", output)
	}
}

func TestOpsf_WithoutLogger(t *testing.T) {
	SetLogWriters(LogWriters{})
	// Should not panic when no logger is configured.
	Opsf("silently discarded: %d", 123)
}

func TestDiagf_WithLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLogWriters(LogWriters{Diag: &buf})
	defer SetLogWriters(LogWriters{})

	Diagf("diag %s", "event")

	if !strings.Contains(buf.String(), "diag event") {
		t.Errorf("expected output to contain 'diag event', got %q", buf.String())
	}
}

func TestTracef_WithLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLogWriters(LogWriters{Trace: &buf})
	defer SetLogWriters(LogWriters{})

	Tracef("trace %s", "event")

	if !strings.Contains(buf.String(), "trace event") {
		t.Errorf("expected output to contain 'trace event', got %q", buf.String())
	}
}

func TestNewLogger_NilWriter(t *testing.T) {
	if logger := newLogger("[test] ", nil); logger != nil {
		t.Error("expected nil logger for nil writer")
	}
}
