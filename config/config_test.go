package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cryptostream/models"
)

const minimalConfig = `cryptostream:
  name: "TestApp"
  version: "1.0"
reader:
  handshake_timeout: 2s
  reconnect: true
exchanges:
  aevo:
    url: "ws://localhost:9000"
streams:
  - name: deribit-btc
    subscriptions:
      - {exchange: deribit, base: BTC, quote: usd, instrument: perpetual, kind: order_books_l2}
      - {exchange: deribit, base: btc, quote: usd, instrument: future, kind: public_trades, expiry: "2023-06-30"}
  - name: aevo-eth
    subscriptions:
      - exchange: aevo
        base: eth
        quote: usd
        instrument: option
        kind: order_books_l2
        expiry: "2023-06-30"
        strike: "2000"
        option_kind: call
`

// writeTempConfig writes content to a temporary YAML file and returns its
// path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Cryptostream.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Cryptostream.Name)
	}
	if cfg.Reader.HandshakeTimeout != 2*time.Second || !cfg.Reader.Reconnect {
		t.Errorf("unexpected reader config: %+v", cfg.Reader)
	}
	if cfg.Reader.KeepAlive != 20*time.Second {
		t.Errorf("default keep_alive not applied: %v", cfg.Reader.KeepAlive)
	}
	if cfg.Exchanges.Aevo.URL != "ws://localhost:9000" {
		t.Errorf("unexpected aevo url: %s", cfg.Exchanges.Aevo.URL)
	}
	if len(cfg.Streams) != 2 || len(cfg.Streams[0].Subscriptions) != 2 {
		t.Fatalf("unexpected streams: %+v", cfg.Streams)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")
	cfg, err := LoadConfig(writeTempConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("LOG_LEVEL not applied: %q", cfg.Logging.Level)
	}
	if len(cfg.Storage.Kafka.Brokers) != 2 || cfg.Storage.Kafka.Brokers[1] != "b:9092" {
		t.Errorf("KAFKA_BROKERS not applied: %v", cfg.Storage.Kafka.Brokers)
	}
}

func TestValidateConfig(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{"missing name", func(s string) string { return strings.Replace(s, `name: "TestApp"`, "", 1) }, "cryptostream.name"},
		{"mixed exchanges", func(s string) string { return strings.Replace(s, "{exchange: deribit, base: btc", "{exchange: aevo, base: btc", 1) }, "mixes exchanges"},
		{"bad kind", func(s string) string { return strings.Replace(s, "kind: public_trades", "kind: candles", 1) }, "unknown stream kind"},
		{"future without expiry", func(s string) string { return strings.Replace(s, `, expiry: "2023-06-30"`, "", 1) }, "expiry"},
		{"bad strike", func(s string) string { return strings.Replace(s, `strike: "2000"`, `strike: "abc"`, 1) }, "strike"},
		{"kafka without topic", func(s string) string {
			return s + "storage:\n  kafka:\n    enabled: true\n    brokers: [\"localhost:9092\"]\n"
		}, "storage.kafka.topic"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := LoadConfig(writeTempConfig(t, c.mutate(minimalConfig)))
			if err == nil || !strings.Contains(err.Error(), c.wantErr) {
				t.Fatalf("expected error containing %q, got %v", c.wantErr, err)
			}
		})
	}
}

func TestSubscriptionToInstrument(t *testing.T) {
	sub := SubscriptionConfig{
		Exchange: "aevo", Base: "ETH", Quote: "USD", Instrument: "option", Kind: "order_books_l2",
		Expiry: "2023-06-30", Strike: "2000", OptionKind: "put",
	}
	inst, err := sub.ToInstrument()
	if err != nil {
		t.Fatalf("ToInstrument: %v", err)
	}
	if inst.Base != "eth" || inst.Kind.Type != models.InstrumentOption {
		t.Fatalf("unexpected instrument %+v", inst)
	}
	opt := inst.Kind.Option
	if opt.Kind != models.OptionPut || opt.Exercise != models.ExerciseEuropean || opt.Strike.String() != "2000" {
		t.Fatalf("unexpected option terms %+v", opt)
	}
	if want := time.Date(2023, 6, 30, 8, 0, 0, 0, time.UTC); !opt.Expiry.Equal(want) {
		t.Fatalf("expiry = %v, want %v", opt.Expiry, want)
	}
	if kind, err := sub.StreamKind(); err != nil || kind != models.OrderBooksL2 {
		t.Fatalf("StreamKind = %v, %v", kind, err)
	}
}

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.yml")
	prod := filepath.Join(dir, "config.production.yml")
	if err := os.WriteFile(prod, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("APP_ENV", "prod")
	if got := ResolvePath(base); got != prod {
		t.Errorf("ResolvePath = %s, want %s", got, prod)
	}
	t.Setenv("APP_ENV", "staging")
	if got := ResolvePath(base); got != base {
		t.Errorf("ResolvePath without env file = %s, want %s", got, base)
	}
	if !IsProductionLike(AppEnvironment()) {
		t.Errorf("staging should be production-like")
	}
}
