package profile

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// MinSecretLength is the minimum accepted length for secrets (bot token,
// classifier API key) in prod mode. Shorter values are almost always
// placeholders that leaked out of a .env.example.
const MinSecretLength = 32

// Profile is configuration to start the main server.
type Profile struct {
	// Classifier configuration (OpenAI-compatible protocol)
	ClassifierAPIKey  string // API key for the classification endpoint
	ClassifierModel   string // model name, e.g. gpt-4o-mini
	ClassifierBaseURL string // optional, defaults to the OpenAI endpoint
	ClassifierTimeout int    // request timeout in seconds (default: 10)

	// Telegram configuration
	BotToken string

	// Other configurations
	Mode     string // "prod" or "dev"
	Addr     string
	Port     int
	Driver   string // "postgres" or "sqlite"
	DSN      string
	Version  string
	ErrorDSN string // optional error-tracking DSN, forwarded to the tracker if set

	// Operational knobs
	MetricsEnabled   bool
	DBTimeoutSeconds int // per-query timeout (default: 5 dev, 15 prod)
	QueueGraceSecs   int // shutdown drain window for in-flight jobs
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		slog.Warn("invalid integer in environment, using default", "key", key, "value", value)
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.BotToken = getEnvOrDefault("REPLYWATCH_BOT_TOKEN", p.BotToken)

	p.ClassifierAPIKey = getEnvOrDefault("REPLYWATCH_CLASSIFIER_API_KEY", "")
	p.ClassifierModel = getEnvOrDefault("REPLYWATCH_CLASSIFIER_MODEL", "gpt-4o-mini")
	p.ClassifierBaseURL = getEnvOrDefault("REPLYWATCH_CLASSIFIER_BASE_URL", "")
	p.ClassifierTimeout = getEnvOrDefaultInt("REPLYWATCH_CLASSIFIER_TIMEOUT_SECONDS", 10)

	p.ErrorDSN = getEnvOrDefault("REPLYWATCH_ERROR_DSN", "")
	p.MetricsEnabled = getEnvOrDefault("REPLYWATCH_METRICS_ENABLED", "true") == "true"
	p.QueueGraceSecs = getEnvOrDefaultInt("REPLYWATCH_QUEUE_GRACE_SECONDS", 30)

	defaultDBTimeout := 5
	if !p.IsDev() {
		defaultDBTimeout = 15
	}
	p.DBTimeoutSeconds = getEnvOrDefaultInt("REPLYWATCH_DB_TIMEOUT_SECONDS", defaultDBTimeout)
}

// Validate checks the profile for fatal misconfiguration. Any error returned
// here should abort the boot with a non-zero exit code.
func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}

	if p.Driver != "postgres" && p.Driver != "sqlite" {
		return errors.Errorf("unsupported database driver %q", p.Driver)
	}
	if p.DSN == "" {
		if p.Driver == "sqlite" {
			p.DSN = fmt.Sprintf("replywatch_%s.db", p.Mode)
		} else {
			return errors.New("dsn required for postgres driver")
		}
	}

	if p.BotToken == "" {
		return errors.New("bot token required (REPLYWATCH_BOT_TOKEN)")
	}
	if !p.IsDev() {
		if len(p.BotToken) < MinSecretLength {
			return errors.Errorf("bot token too short, expected at least %d characters", MinSecretLength)
		}
		if p.ClassifierAPIKey != "" && len(p.ClassifierAPIKey) < MinSecretLength {
			return errors.Errorf("classifier API key too short, expected at least %d characters", MinSecretLength)
		}
	}

	if p.ClassifierTimeout <= 0 {
		p.ClassifierTimeout = 10
	}
	if p.QueueGraceSecs <= 0 {
		p.QueueGraceSecs = 30
	}

	return nil
}
