package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestWithComponent(t *testing.T) {
	log := New()
	entry := log.WithComponent("test").WithExchange("deribit")
	if v := entry.Entry.Data["component"]; v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
	if v := entry.Entry.Data["exchange"]; v != "deribit" {
		t.Fatalf("exchange field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := New()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := New()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureEnvOverridesLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")

	log := New()
	if err := log.Configure("warn", "text", "stderr", 0); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if log.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}
}

func TestErrorCountsByComponent(t *testing.T) {
	log := New()
	log.SetOutput(&bytes.Buffer{})

	log.WithComponent("count-test").Error("boom")
	log.WithComponent("count-test").Error("boom")
	log.WithComponent("count-test").Warn("careful")

	if n := counts(&errorCount)["count-test"]; n != 2 {
		t.Fatalf("expected 2 errors, got %d", n)
	}
	if n := counts(&warnCount)["count-test"]; n != 1 {
		t.Fatalf("expected 1 warn, got %d", n)
	}
}

func TestJSONOutputKeys(t *testing.T) {
	var buf bytes.Buffer
	log := New()
	log.SetOutput(&buf)
	log.SetLevel(logrus.InfoLevel)

	log.WithComponent("json").Info("hello")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	for _, key := range []string{"timestamp", "level", "message", "component"} {
		if _, ok := line[key]; !ok {
			t.Fatalf("missing %q in %v", key, line)
		}
	}
}

func TestRecordSocketFrame(t *testing.T) {
	RecordSocketFrame("frame-test", 10)
	RecordSocketFrame("frame-test", 5)

	s := socketCounts()["frame-test"]
	if s["frames"] != 2 || s["bytes"] != 15 {
		t.Fatalf("unexpected socket stats: %v", s)
	}
}
