package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the agent and reconcile processes.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	LiveKit   LiveKitConfig
	CRM       CRMConfig
	Paths     PathsConfig
	Hangup    HangupConfig
	Egress    EgressConfig
	Reconcile ReconcileConfig
	Kafka     KafkaConfig
	MQTT      MQTTConfig
	Defaults  DefaultsConfig
}

type AppConfig struct {
	Env  string
	Port int
}

// DBConfig is optional. When Host is empty the egress registry stays in memory.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional. When Host is empty reconciliation runs without leases.
type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	ServiceTokenSecret string
	Issuer             string
	Audience           string
	TokenTTL           time.Duration
}

type LiveKitConfig struct {
	URL            string
	APIKey         string
	APISecret      string
	RequestTimeout time.Duration
}

type CRMConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	UploadTimeout  time.Duration
}

type PathsConfig struct {
	RecordingsDir    string
	ConversationsDir string
	LeadsDir         string
	ProcessedDir     string
}

type HangupConfig struct {
	Phrases      []string
	PhrasesFile  string
	ClosingWait  time.Duration
	PhraseWait   time.Duration
	PollInterval time.Duration
	PlayoutWait  time.Duration
}

type EgressConfig struct {
	PollInterval time.Duration
	MaxAttempts  int
	// OutputDir is the directory prefix the recorder writes to, as seen by the platform.
	OutputDir string
}

type ReconcileConfig struct {
	BatchSize         int
	MaxRuns           int
	Interval          time.Duration
	LeaseTTL          time.Duration
	HotPathTimeout    time.Duration
	DeleteAfterUpload bool
	// RecordingGrace is how long the sweep waits for a recording that the
	// conversation says exists before uploading without it.
	RecordingGrace time.Duration
}

type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         int
}

// DefaultsConfig fills identity fields for artifacts that carry none.
type DefaultsConfig struct {
	CampaignID   string
	VoiceAgentID string
	ClientID     string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error
	intOr := func(key string, def int) int {
		n, err := optionalInt(key, def)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		return n
	}
	boolOr := func(key string, def bool) bool {
		b, err := optionalBool(key, def)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		return b
	}

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port = intOr("APP_PORT", 8080)

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port = intOr("DB_PORT", 5432)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port = intOr("REDIS_PORT", 6379)

	c.Auth.ServiceTokenSecret = os.Getenv("SERVICE_TOKEN_SECRET")
	c.Auth.Issuer = strings.TrimSpace(os.Getenv("SERVICE_TOKEN_ISSUER"))
	c.Auth.Audience = strings.TrimSpace(os.Getenv("SERVICE_TOKEN_AUDIENCE"))
	c.Auth.TokenTTL = mustDuration("SERVICE_TOKEN_TTL")

	c.LiveKit.URL = strings.TrimSpace(os.Getenv("LIVEKIT_URL"))
	c.LiveKit.APIKey = strings.TrimSpace(os.Getenv("LIVEKIT_API_KEY"))
	c.LiveKit.APISecret = os.Getenv("LIVEKIT_API_SECRET")
	c.LiveKit.RequestTimeout = mustDuration("LIVEKIT_REQUEST_TIMEOUT")

	c.CRM.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("CRM_BASE_URL")), "/")
	c.CRM.RequestTimeout = mustDuration("CRM_REQUEST_TIMEOUT")
	c.CRM.UploadTimeout = mustDuration("CRM_UPLOAD_TIMEOUT")

	c.Paths.RecordingsDir = strings.TrimSpace(os.Getenv("RECORDINGS_DIR"))
	c.Paths.ConversationsDir = strings.TrimSpace(os.Getenv("CONVERSATIONS_DIR"))
	c.Paths.LeadsDir = strings.TrimSpace(os.Getenv("LEADS_DIR"))
	c.Paths.ProcessedDir = strings.TrimSpace(os.Getenv("PROCESSED_DIR"))

	c.Hangup.Phrases = splitList(os.Getenv("HANGUP_PHRASES"))
	c.Hangup.PhrasesFile = strings.TrimSpace(os.Getenv("HANGUP_PHRASES_FILE"))
	c.Hangup.ClosingWait = mustDuration("HANGUP_CLOSING_WAIT")
	c.Hangup.PhraseWait = mustDuration("HANGUP_PHRASE_WAIT")
	c.Hangup.PollInterval = mustDuration("WATCH_POLL_INTERVAL")
	c.Hangup.PlayoutWait = mustDuration("PLAYOUT_WAIT")

	c.Egress.PollInterval = mustDuration("EGRESS_POLL_INTERVAL")
	c.Egress.MaxAttempts = intOr("EGRESS_MAX_ATTEMPTS", 0)
	c.Egress.OutputDir = strings.TrimSpace(os.Getenv("EGRESS_OUTPUT_DIR"))

	c.Reconcile.BatchSize = intOr("RECONCILE_BATCH_SIZE", 0)
	c.Reconcile.MaxRuns = intOr("RECONCILE_MAX_RUNS", 0)
	c.Reconcile.Interval = mustDuration("RECONCILE_INTERVAL")
	c.Reconcile.LeaseTTL = mustDuration("RECONCILE_LEASE_TTL")
	c.Reconcile.HotPathTimeout = mustDuration("HOT_PATH_TIMEOUT")
	c.Reconcile.DeleteAfterUpload = boolOr("DELETE_LOCAL_AFTER_UPLOAD", true)
	c.Reconcile.RecordingGrace = mustDuration("RECONCILE_RECORDING_GRACE")

	c.Kafka.Brokers = splitList(os.Getenv("KAFKA_BROKERS"))
	c.Kafka.AuditTopic = strings.TrimSpace(os.Getenv("KAFKA_AUDIT_TOPIC"))

	c.MQTT.Broker = strings.TrimSpace(os.Getenv("MQTT_BROKER"))
	c.MQTT.ClientID = strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	c.MQTT.TopicPrefix = strings.TrimSpace(os.Getenv("MQTT_TOPIC_PREFIX"))
	c.MQTT.QoS = intOr("MQTT_QOS", 1)

	c.Defaults.CampaignID = strings.TrimSpace(os.Getenv("DEFAULT_CAMPAIGN_ID"))
	c.Defaults.VoiceAgentID = strings.TrimSpace(os.Getenv("DEFAULT_VOICE_AGENT_ID"))
	c.Defaults.ClientID = strings.TrimSpace(os.Getenv("DEFAULT_CLIENT_ID"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}

	if c.Hangup.PhrasesFile != "" && len(c.Hangup.Phrases) == 0 {
		phrases, err := LoadPhrases(c.Hangup.PhrasesFile)
		if err != nil {
			return Config{}, err
		}
		c.Hangup.Phrases = phrases
	}

	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ApplyDefaults fills every optional knob that was left unset.
func (c *Config) ApplyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "local"
	}
	if c.DB.SSLMode == "" && !c.IsProduction() {
		// Local-friendly default; production must be explicit.
		c.DB.SSLMode = "disable"
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 12 * time.Hour
	}
	if c.LiveKit.RequestTimeout <= 0 {
		c.LiveKit.RequestTimeout = 10 * time.Second
	}
	if c.CRM.RequestTimeout <= 0 {
		c.CRM.RequestTimeout = 30 * time.Second
	}
	if c.CRM.UploadTimeout <= 0 {
		c.CRM.UploadTimeout = 60 * time.Second
	}

	if c.Paths.RecordingsDir == "" {
		c.Paths.RecordingsDir = "recordings"
	}
	if c.Paths.ConversationsDir == "" {
		c.Paths.ConversationsDir = "conversations"
	}
	if c.Paths.LeadsDir == "" {
		c.Paths.LeadsDir = "leads"
	}
	if c.Paths.ProcessedDir == "" {
		c.Paths.ProcessedDir = "processed_uploads"
	}

	if len(c.Hangup.Phrases) == 0 {
		c.Hangup.Phrases = append([]string(nil), DefaultHangupPhrases...)
	}
	if c.Hangup.ClosingWait <= 0 {
		c.Hangup.ClosingWait = 4 * time.Second
	}
	if c.Hangup.PhraseWait <= 0 {
		c.Hangup.PhraseWait = 2 * time.Second
	}
	if c.Hangup.PollInterval <= 0 {
		c.Hangup.PollInterval = 500 * time.Millisecond
	}
	if c.Hangup.PlayoutWait <= 0 {
		c.Hangup.PlayoutWait = 5 * time.Second
	}

	if c.Egress.PollInterval <= 0 {
		c.Egress.PollInterval = 5 * time.Second
	}
	if c.Egress.MaxAttempts <= 0 {
		c.Egress.MaxAttempts = 6
	}
	if c.Egress.OutputDir == "" {
		c.Egress.OutputDir = "recordings"
	}

	if c.Reconcile.BatchSize <= 0 {
		c.Reconcile.BatchSize = 10
	}
	if c.Reconcile.MaxRuns <= 0 {
		c.Reconcile.MaxRuns = 1
	}
	if c.Reconcile.LeaseTTL <= 0 {
		c.Reconcile.LeaseTTL = 10 * time.Minute
	}
	if c.Reconcile.HotPathTimeout <= 0 {
		c.Reconcile.HotPathTimeout = 45 * time.Second
	}
	if c.Reconcile.RecordingGrace <= 0 {
		c.Reconcile.RecordingGrace = 15 * time.Minute
	}

	if c.Kafka.AuditTopic == "" {
		c.Kafka.AuditTopic = "call.outcomes"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "callflow"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "callflow"
	}
}

// Validate checks what both processes need.
func (c Config) Validate() error {
	var errs []error

	if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}

	if c.CRM.BaseURL == "" {
		errs = append(errs, errors.New("CRM_BASE_URL is required"))
	} else if !strings.HasPrefix(c.CRM.BaseURL, "http://") && !strings.HasPrefix(c.CRM.BaseURL, "https://") {
		errs = append(errs, fmt.Errorf("CRM_BASE_URL must be an http(s) URL, got %q", c.CRM.BaseURL))
	}

	if c.DB.Host != "" {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required when DB_HOST is set"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required when DB_HOST is set"))
		}
		if c.DB.SSLMode == "" {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else if !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Reconcile.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("RECONCILE_BATCH_SIZE must be > 0, got %d", c.Reconcile.BatchSize))
	}
	if c.Egress.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("EGRESS_MAX_ATTEMPTS must be > 0, got %d", c.Egress.MaxAttempts))
	}
	if c.Hangup.PhraseWait >= c.Hangup.ClosingWait {
		errs = append(errs, errors.New("HANGUP_PHRASE_WAIT must be shorter than HANGUP_CLOSING_WAIT"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}

	return joinErrors(errs)
}

// ValidateAgent adds the checks only the live call service needs.
func (c Config) ValidateAgent() error {
	var errs []error
	if err := c.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.LiveKit.URL == "" {
		errs = append(errs, errors.New("LIVEKIT_URL is required"))
	}
	if c.LiveKit.APIKey == "" {
		errs = append(errs, errors.New("LIVEKIT_API_KEY is required"))
	}
	if c.LiveKit.APISecret == "" {
		errs = append(errs, errors.New("LIVEKIT_API_SECRET is required"))
	}
	if c.Auth.ServiceTokenSecret == "" {
		errs = append(errs, errors.New("SERVICE_TOKEN_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.Issuer == "" {
			errs = append(errs, errors.New("SERVICE_TOKEN_ISSUER is required in production"))
		}
	}
	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresEnabled() bool { return c.DB.Host != "" }

func (c Config) RedisEnabled() bool { return c.Redis.Host != "" }

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func optionalInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

// mustDuration returns 0 when unset or unparsable; defaults are applied later.
func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
