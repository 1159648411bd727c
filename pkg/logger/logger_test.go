package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn)

	l.Debug("debug %d", 1)
	l.Info("info %d", 2)
	l.Warn("warn %d", 3)
	l.Error("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Errorf("messages below the level were written: %q", out)
	}
	if !strings.Contains(out, "[WARN] warn 3") {
		t.Errorf("warn message missing: %q", out)
	}
	if !strings.Contains(out, "[ERROR] error 4") {
		t.Errorf("error message missing: %q", out)
	}
	if !strings.Contains(out, "pathcheck") {
		t.Errorf("prefix missing: %q", out)
	}
}

func TestLoggerNamed(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug).Named("engine")
	l.Debug("trace")
	if !strings.Contains(buf.String(), "pathcheck/engine [DEBUG] trace") {
		t.Errorf("Named() output = %q", buf.String())
	}
}

func TestLoggerEnabled(t *testing.T) {
	l := New(&bytes.Buffer{}, LevelInfo)
	if l.Enabled(LevelDebug) {
		t.Error("Enabled(debug) = true at info level")
	}
	if !l.Enabled(LevelError) {
		t.Error("Enabled(error) = false at info level")
	}
	l.SetLevel(LevelNone)
	if l.Enabled(LevelError) {
		t.Error("Enabled(error) = true when disabled")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"off", LevelNone, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
