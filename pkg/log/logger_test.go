package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestWith_AppendsFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewZerologAdapterWithLogger(zerolog.New(&buf))

	l := With(With(base, String("component", "frames")), SessionID("s-9"))
	l.Warn("archive upload failed", Int("attempt", 2))

	out := buf.String()
	for _, want := range []string{`"component":"frames"`, `"session_id":"s-9"`, `"attempt":2`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %s missing %s", out, want)
		}
	}
	if _, ok := l.(*withLogger); !ok {
		t.Fatalf("With returned %T", l)
	}
	if got := len(l.(*withLogger).fields); got != 2 {
		t.Errorf("nested With kept %d fields, want 2", got)
	}
}

func TestWith_NoFields(t *testing.T) {
	if got := With(Discard); got != Discard {
		t.Errorf("With without fields wrapped the logger: %T", got)
	}
}
