package main

import (
	"flag"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/cart"
	"github.com/BTreeMap/ShopPipe/internal/genai"
	"github.com/BTreeMap/ShopPipe/internal/scheduler"
)

var configEnv = []string{
	"SHOPPIPE_STATE_DIR", "DATABASE_URL", "WHATSAPP_DB_DSN", "MESSAGING_PROVIDER", "LOG_LEVEL",
	"OPENAI_API_KEY", "OPENAI_MODEL", "OWNER_NUMBER", "PROPRIETARIO_NUMERO", "API_ADDR",
	"CART_TTL", "CART_SWEEP_SCHEDULE", "REDIS_DB", "INACTIVITY_NOTICE_AFTER", "RABBIT_QUEUE",
}

// clearConfigEnv blanks every variable the loader reads; t.Setenv restores
// them after the test.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnv {
		t.Setenv(k, "")
	}
}

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("shoppipe", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestLoadEnvironmentConfigDefaults(t *testing.T) {
	clearConfigEnv(t)
	cfg := loadEnvironmentConfig()

	if cfg.StateDir != DefaultStateDir {
		t.Errorf("StateDir = %q", cfg.StateDir)
	}
	if want := filepath.Join(DefaultStateDir, DefaultAppDBFileName); cfg.ApplicationDBDSN != want {
		t.Errorf("ApplicationDBDSN = %q, want %q", cfg.ApplicationDBDSN, want)
	}
	if !strings.HasSuffix(cfg.WhatsAppDBDSN, DefaultWhatsAppDBFileName+"?_foreign_keys=on") {
		t.Errorf("WhatsAppDBDSN = %q", cfg.WhatsAppDBDSN)
	}
	if cfg.Provider != ProviderWhatsApp || cfg.OpenAIModel != genai.DefaultModel || cfg.RabbitQueue != DefaultRabbitQueue {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.CartTTL != cart.DefaultTTL || cfg.CartSweepSchedule != scheduler.DefaultSweepSchedule {
		t.Errorf("cart defaults = %v %q", cfg.CartTTL, cfg.CartSweepSchedule)
	}
}

func TestLoadEnvironmentConfigOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SHOPPIPE_STATE_DIR", "/tmp/shop")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/shop")
	t.Setenv("MESSAGING_PROVIDER", " Twilio ")
	t.Setenv("PROPRIETARIO_NUMERO", "+55 (11) 99999-9999")
	t.Setenv("CART_TTL", "2h")
	t.Setenv("INACTIVITY_NOTICE_AFTER", "0s")

	cfg := loadEnvironmentConfig()
	if cfg.ApplicationDBDSN != "postgres://u:p@localhost/shop" {
		t.Errorf("ApplicationDBDSN = %q", cfg.ApplicationDBDSN)
	}
	if cfg.Provider != ProviderTwilio {
		t.Errorf("Provider = %q", cfg.Provider)
	}
	if cfg.OwnerNumber != "5511999999999" {
		t.Errorf("OwnerNumber = %q", cfg.OwnerNumber)
	}
	if cfg.CartTTL != 2*time.Hour || cfg.InactivityAfter != 0 {
		t.Errorf("durations = %v %v", cfg.CartTTL, cfg.InactivityAfter)
	}
	if !strings.HasPrefix(cfg.WhatsAppDBDSN, "file:/tmp/shop/") {
		t.Errorf("WhatsAppDBDSN = %q", cfg.WhatsAppDBDSN)
	}
}

func TestParseCommandLineFlags_StateDirMovesDefaults(t *testing.T) {
	clearConfigEnv(t)
	cfg := loadEnvironmentConfig()
	flags, err := parseCommandLineFlags(newFlagSet(), cfg, []string{"-state-dir", "/srv/shop", "-owner", "+55 11 98888-7777"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if *flags.dbDSN != filepath.Join("/srv/shop", DefaultAppDBFileName) {
		t.Errorf("dbDSN = %q", *flags.dbDSN)
	}
	if *flags.waDSN != defaultWhatsAppDSN("/srv/shop") {
		t.Errorf("waDSN = %q", *flags.waDSN)
	}
	if *flags.owner != "5511988887777" {
		t.Errorf("owner = %q", *flags.owner)
	}
}

func TestParseCommandLineFlags_ExplicitDSNKept(t *testing.T) {
	clearConfigEnv(t)
	cfg := loadEnvironmentConfig()
	flags, err := parseCommandLineFlags(newFlagSet(), cfg, []string{"-state-dir", "/srv/shop", "-db-dsn", "/data/app.db"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if *flags.dbDSN != "/data/app.db" {
		t.Errorf("dbDSN = %q", *flags.dbDSN)
	}
}

func TestParseCommandLineFlags_Invalid(t *testing.T) {
	if _, err := parseCommandLineFlags(newFlagSet(), Config{}, []string{"-no-such-flag"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelDebug,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelDebug,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if waLogLevel("warn") != "WARN" || waLogLevel("info") != "INFO" {
		t.Error("waLogLevel mapping wrong")
	}
}

func TestBuildOptions(t *testing.T) {
	clearConfigEnv(t)
	cfg := loadEnvironmentConfig()
	flags, err := parseCommandLineFlags(newFlagSet(), cfg, []string{"-qr-output", "/tmp/qr.txt", "-numeric-code", "-genai-debug"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n := len(buildWhatsAppOptions(flags)); n != 4 {
		t.Errorf("whatsapp options = %d, want 4", n)
	}
	if n := len(buildGenAIOptions(flags)); n != 3 {
		t.Errorf("genai options = %d, want 3", n)
	}
	if n := len(buildTwilioOptions(Config{TwilioAccountSID: "AC1", TwilioAuthToken: "tok"})); n != 2 {
		t.Errorf("twilio options = %d, want 2", n)
	}
	if n := len(buildAPIOptions(cfg, flags)); n != 3 {
		t.Errorf("api options = %d, want 3", n)
	}
}

func TestOpenTransport_UnknownProvider(t *testing.T) {
	clearConfigEnv(t)
	cfg := loadEnvironmentConfig()
	flags, err := parseCommandLineFlags(newFlagSet(), cfg, []string{"-provider", "telegram"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := openTransport(cfg, flags); err == nil || !strings.Contains(err.Error(), "telegram") {
		t.Errorf("openTransport = %v", err)
	}
}
