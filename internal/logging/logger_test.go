package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerWritesComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo("tree", &buf)

	l.Infof("listed %d entries", 3)

	out := buf.String()
	if !strings.Contains(out, "listed 3 entries") {
		t.Errorf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "tree") {
		t.Errorf("expected component tag in output, got %q", out)
	}
}

func TestLoggerRespectsGlobalLevel(t *testing.T) {
	defer SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	l := NewLoggerTo("remote", &buf)

	l.Debugf("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug output should be suppressed at info level, got %q", buf.String())
	}

	SetGlobalLevel(zerolog.DebugLevel)
	l.Debugf("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected debug output after lowering level, got %q", buf.String())
	}
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.Errorf("discarded %s", "message")
	l.Info().Str("k", "v").Msg("discarded")
}
