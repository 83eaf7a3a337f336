package coreconfig

import (
	"strings"
	"testing"
)

func stringsReader(s string) *strings.Reader { return strings.NewReader(s) }

func TestParseBasicKeyValue(t *testing.T) {
	src := "# a comment\nguest_memory_bytes = 0x4000000\ndebug=true\n\nname = espresso\n"
	cfg, err := Parse(stringsReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	size, err := cfg.Uint32("guest_memory_bytes", 0)
	if err != nil {
		t.Fatalf("Uint32: %v", err)
	}
	if size != 0x4000000 {
		t.Fatalf("expected 0x4000000, got 0x%X", size)
	}
	debug, err := cfg.Bool("debug", false)
	if err != nil || !debug {
		t.Fatalf("expected debug=true, got %v err=%v", debug, err)
	}
	if cfg.String("name", "") != "espresso" {
		t.Fatalf("expected name=espresso, got %q", cfg.String("name", ""))
	}
}

func TestParseRejectsMalformedLine(t *testing.T) {
	_, err := Parse(stringsReader("not a valid line\n"))
	if err == nil {
		t.Fatal("expected an error for a line with no '='")
	}
}

func TestDefaultsWhenKeyMissing(t *testing.T) {
	cfg, err := Parse(stringsReader(""))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if v, _ := cfg.Uint32("missing", 42); v != 42 {
		t.Fatalf("expected default 42, got %d", v)
	}
}
