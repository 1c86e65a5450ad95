package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/ShopPipe/internal/api"
	"github.com/BTreeMap/ShopPipe/internal/assistant"
	"github.com/BTreeMap/ShopPipe/internal/cart"
	"github.com/BTreeMap/ShopPipe/internal/flow"
	"github.com/BTreeMap/ShopPipe/internal/genai"
	"github.com/BTreeMap/ShopPipe/internal/scheduler"
	"github.com/BTreeMap/ShopPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/ShopPipe/internal/util"
	"github.com/BTreeMap/ShopPipe/internal/whatsapp"
)

const (
	// DefaultStateDir holds the database, device store and lock file.
	DefaultStateDir = "/var/lib/shoppipe"
	// DefaultAppDBFileName is the SQLite file for carts, products and orders.
	DefaultAppDBFileName = "shoppipe.db"
	// DefaultWhatsAppDBFileName is the whatsmeow device store.
	DefaultWhatsAppDBFileName = "whatsmeow.db"

	ProviderWhatsApp = "whatsapp"
	ProviderTwilio   = "twilio"

	DefaultRabbitQueue = "orders.placed"
)

// Config is the environment-derived configuration.
type Config struct {
	StateDir         string
	ApplicationDBDSN string
	WhatsAppDBDSN    string
	Provider         string
	LogLevel         string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioWebhookURL string

	OpenAIKey         string
	OpenAIModel       string
	AssistantTimeout  time.Duration
	FollowupDelay     time.Duration
	InactivityAfter   time.Duration
	SentimentAnalysis bool
	GenAIDebug        bool

	OwnerNumber string

	APIAddr           string
	JWTSecret         string
	AdminUser         string
	AdminPasswordHash string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RabbitURL   string
	RabbitQueue string

	CartTTL           time.Duration
	CartSweepSchedule string
}

// Flags holds command line overrides.
type Flags struct {
	stateDir    *string
	dbDSN       *string
	waDSN       *string
	provider    *string
	openaiKey   *string
	openaiModel *string
	owner       *string
	apiAddr     *string
	logLevel    *string
	qrOutput    *string
	numeric     *bool
	genaiDebug  *bool
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// loadEnvironmentConfig reads .env (if present) and the process environment.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("loadEnvironmentConfig: no .env file loaded", "error", err)
	}

	cfg := Config{
		StateDir:          os.Getenv("SHOPPIPE_STATE_DIR"),
		ApplicationDBDSN:  os.Getenv("DATABASE_URL"),
		WhatsAppDBDSN:     os.Getenv("WHATSAPP_DB_DSN"),
		Provider:          strings.ToLower(strings.TrimSpace(os.Getenv("MESSAGING_PROVIDER"))),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:        os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL:  os.Getenv("TWILIO_WEBHOOK_URL"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:       os.Getenv("OPENAI_MODEL"),
		AssistantTimeout:  util.ParseDurationEnv("ASSISTANT_TIMEOUT", assistant.DefaultTimeout),
		FollowupDelay:     util.ParseDurationEnv("FOLLOWUP_DELAY", assistant.DefaultFollowupDelay),
		InactivityAfter:   util.ParseDurationEnv("INACTIVITY_NOTICE_AFTER", flow.DefaultInactivityDelay),
		SentimentAnalysis: util.ParseBoolEnv("SENTIMENT_ANALYSIS", false),
		GenAIDebug:        util.ParseBoolEnv("GENAI_DEBUG", false),
		OwnerNumber:       util.DigitsOnly(util.FirstEnv("OWNER_NUMBER", "PROPRIETARIO_NUMERO")),
		APIAddr:           os.Getenv("API_ADDR"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		AdminUser:         os.Getenv("ADMIN_USER"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           util.ParseIntEnv("REDIS_DB", 0),
		RabbitURL:         os.Getenv("RABBIT_URL"),
		RabbitQueue:       os.Getenv("RABBIT_QUEUE"),
		CartTTL:           util.ParseDurationEnv("CART_TTL", cart.DefaultTTL),
		CartSweepSchedule: os.Getenv("CART_SWEEP_SCHEDULE"),
	}

	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
	}
	if cfg.ApplicationDBDSN == "" {
		cfg.ApplicationDBDSN = filepath.Join(cfg.StateDir, DefaultAppDBFileName)
	}
	if cfg.WhatsAppDBDSN == "" {
		cfg.WhatsAppDBDSN = defaultWhatsAppDSN(cfg.StateDir)
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderWhatsApp
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "debug"
	}
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = genai.DefaultModel
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = api.DefaultAddr
	}
	if cfg.RabbitQueue == "" {
		cfg.RabbitQueue = DefaultRabbitQueue
	}
	if cfg.CartSweepSchedule == "" {
		cfg.CartSweepSchedule = scheduler.DefaultSweepSchedule
	}

	slog.Debug("loadEnvironmentConfig: loaded",
		"stateDir", cfg.StateDir,
		"provider", cfg.Provider,
		"openaiKeySet", cfg.OpenAIKey != "",
		"ownerSet", cfg.OwnerNumber != "",
		"redisSet", cfg.RedisAddr != "",
		"rabbitSet", cfg.RabbitURL != "",
		"apiAddr", cfg.APIAddr)
	return cfg
}

// parseCommandLineFlags registers flags defaulting to cfg and parses args.
func parseCommandLineFlags(fs *flag.FlagSet, cfg Config, args []string) (Flags, error) {
	flags := Flags{
		stateDir:    fs.String("state-dir", cfg.StateDir, "state directory (overrides $SHOPPIPE_STATE_DIR)"),
		dbDSN:       fs.String("db-dsn", cfg.ApplicationDBDSN, "Postgres URL or SQLite path (overrides $DATABASE_URL)"),
		waDSN:       fs.String("wa-dsn", cfg.WhatsAppDBDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)"),
		provider:    fs.String("provider", cfg.Provider, "messaging provider: whatsapp or twilio (overrides $MESSAGING_PROVIDER)"),
		openaiKey:   fs.String("openai-api-key", cfg.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel: fs.String("openai-model", cfg.OpenAIModel, "OpenAI model (overrides $OPENAI_MODEL)"),
		owner:       fs.String("owner", cfg.OwnerNumber, "store owner number (overrides $OWNER_NUMBER)"),
		apiAddr:     fs.String("api-addr", cfg.APIAddr, "admin API address (overrides $API_ADDR)"),
		logLevel:    fs.String("log-level", cfg.LogLevel, "log level: debug, info, warn or error (overrides $LOG_LEVEL)"),
		qrOutput:    fs.String("qr-output", "", "write the WhatsApp login QR code to this file"),
		numeric:     fs.Bool("numeric-code", false, "print the login QR payload instead of rendering it"),
		genaiDebug:  fs.Bool("genai-debug", cfg.GenAIDebug, "write completion requests to <state-dir>/debug (overrides $GENAI_DEBUG)"),
	}
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	// Defaults derived from the state directory follow a -state-dir override.
	if *flags.stateDir != cfg.StateDir {
		if *flags.dbDSN == filepath.Join(cfg.StateDir, DefaultAppDBFileName) {
			*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultAppDBFileName)
		}
		if *flags.waDSN == defaultWhatsAppDSN(cfg.StateDir) {
			*flags.waDSN = defaultWhatsAppDSN(*flags.stateDir)
		}
	}
	*flags.owner = util.DigitsOnly(*flags.owner)
	*flags.provider = strings.ToLower(strings.TrimSpace(*flags.provider))
	return flags, nil
}

// parseLogLevel maps a level name to slog, defaulting to debug.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// initializeLogger installs the default text logger.
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

// waLogLevel converts a slog level name to whatsmeow's names.
func waLogLevel(level string) string {
	switch parseLogLevel(level) {
	case slog.LevelDebug:
		return "DEBUG"
	case slog.LevelWarn:
		return "WARN"
	case slog.LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	opts := []whatsapp.Option{
		whatsapp.WithDBDSN(*flags.waDSN),
		whatsapp.WithLogLevel(waLogLevel(*flags.logLevel)),
	}
	if *flags.qrOutput != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	return opts
}

func buildTwilioOptions(cfg Config) []twiliowhatsapp.Option {
	var opts []twiliowhatsapp.Option
	if cfg.TwilioAccountSID != "" {
		opts = append(opts, twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID))
	}
	if cfg.TwilioAuthToken != "" {
		opts = append(opts, twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken))
	}
	if cfg.TwilioFrom != "" {
		opts = append(opts, twiliowhatsapp.WithFromWhats(cfg.TwilioFrom))
	}
	return opts
}

func buildGenAIOptions(flags Flags) []genai.Option {
	opts := []genai.Option{
		genai.WithAPIKey(*flags.openaiKey),
		genai.WithModel(*flags.openaiModel),
	}
	if *flags.genaiDebug {
		opts = append(opts, genai.WithDebugMode(true, *flags.stateDir))
	}
	return opts
}

func buildAssistantOptions(cfg Config, followups assistant.FollowupScheduler) []assistant.Option {
	return []assistant.Option{
		assistant.WithTimeout(cfg.AssistantTimeout),
		assistant.WithFollowup(followups, cfg.FollowupDelay),
		assistant.WithSentiment(cfg.SentimentAnalysis),
	}
}

func buildAPIOptions(cfg Config, flags Flags) []api.Option {
	secret := cfg.JWTSecret
	if secret == "" {
		secret = util.GenerateRandomHex(64)
		slog.Warn("buildAPIOptions: JWT_SECRET not set, using an ephemeral secret; tokens will not survive a restart")
	}
	if cfg.AdminUser == "" || cfg.AdminPasswordHash == "" {
		slog.Warn("buildAPIOptions: ADMIN_USER or ADMIN_PASSWORD_HASH not set, token endpoint will reject every login")
	}
	return []api.Option{
		api.WithAddr(*flags.apiAddr),
		api.WithJWTSecret(secret),
		api.WithAdmin(cfg.AdminUser, cfg.AdminPasswordHash),
	}
}
