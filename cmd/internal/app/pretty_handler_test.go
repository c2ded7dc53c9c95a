package app

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
}

func TestPrettyHandler_FormatsRecord(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))
	log.With("component", "eventsub").WithGroup("session").Warn("eventsub.conn.lost",
		"id", "abc def",
		"err", errors.New("boom"),
	)

	line := buf.String()
	for _, want := range []string{"WARN ", "eventsub.conn.lost", "component=eventsub", `session.id="abc def"`, "session.err=boom"} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("colors written with color disabled: %q", line)
	}
}

func TestPrettyHandler_ColorsStatus(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))
	log.Info("http.request", "status", 503, "duration_ms", int64(12))

	line := buf.String()
	if !strings.Contains(line, ansiRed+"503"+ansiReset) {
		t.Fatalf("status not colored: %q", line)
	}
	if got := stripANSI(line); !strings.Contains(got, "status=503 duration_ms=12ms") {
		t.Fatalf("plain line = %q", got)
	}
}

func TestPrettyHandler_RespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false))
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info record written at warn level: %q", buf.String())
	}
}
