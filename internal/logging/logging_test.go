package logging

import (
	"bytes"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{" Debug ", slog.LevelDebug},
		{"info+2", slog.LevelInfo + 2},
	}
	for _, tt := range tests {
		got, err := parseLevel(tt.in)
		if err != nil {
			t.Fatalf("parseLevel(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseLevelRejectsUnknown(t *testing.T) {
	if _, err := parseLevel("loud"); err == nil {
		t.Fatal("parseLevel accepted an unknown level")
	}
}

func TestConfigureFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	if err := configure(&buf, LevelWarn); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = Configure(LevelInfo) })

	slog.Info("quiet")
	slog.Warn("loud")

	out := buf.String()
	if bytes.Contains(buf.Bytes(), []byte("quiet")) {
		t.Fatalf("info record emitted at warn level:\n%s", out)
	}
	if !bytes.Contains(buf.Bytes(), []byte("loud")) {
		t.Fatalf("warn record missing:\n%s", out)
	}
}

func TestConfigureRejectsBadLevel(t *testing.T) {
	if err := Configure("loud"); err == nil {
		t.Fatal("Configure accepted an unknown level")
	}
}
