package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration required by the API process.
// Values come from an optional flat YAML file, overridden by environment
// variables. No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	Auth      AuthConfig
	LiveKit   LiveKitConfig
	SIP       SIPConfig
	Webhooks  WebhookConfig
	Session   SessionConfig
	Recording RecordingConfig
	Redis     RedisConfig
	Tracing   TracingConfig
	Tasks     TasksConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type LiveKitConfig struct {
	URL       string
	APIKey    string
	APISecret string
}

// SIPConfig names the SIP trunks used to dial calls. Missing trunks are a
// per-call configuration error, not a startup error.
type SIPConfig struct {
	InboundTrunkID  string
	OutboundTrunkID string

	// OutboundCallLimit caps concurrent outbound calls through Redis; 0 disables the cap.
	OutboundCallLimit int
}

type WebhookConfig struct {
	CallURL        string
	EndCallURL     string
	AppointmentURL string
}

type SessionConfig struct {
	MinReportDuration time.Duration
	RoomPrefix        string
}

type RecordingConfig struct {
	Enabled          bool
	UseHLS           bool
	SegmentDuration  int
	PlaylistName     string
	LivePlaylistName string
	FilePath         string
	BaseURL          string

	S3Bucket         string
	S3AccessKey      string
	S3SecretKey      string
	S3Region         string
	S3Endpoint       string
	S3ForcePathStyle bool
}

// RedisConfig is optional; an empty Addr disables event publication, the
// audit stream and the outbound call cap.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	Channel     string
	AuditStream string
}

type TracingConfig struct {
	Enabled     bool
	ServiceName string
}

type TasksConfig struct {
	Limit int
}

// Load reads the optional YAML file at path (flat, case-insensitive keys such
// as app_env), then applies environment variables on top.
func Load(path string) (Config, error) {
	k, err := load(path)
	if err != nil {
		return Config{}, err
	}

	c, err := fromKoanf(k)
	if err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadAuth reads only the token settings, for tools that mint tokens without
// the rest of the service configuration.
func LoadAuth(path string) (AuthConfig, error) {
	k, err := load(path)
	if err != nil {
		return AuthConfig{}, err
	}
	r := reader{k: k}
	a := readAuth(&r)
	if err := joinErrors(r.errs); err != nil {
		return AuthConfig{}, err
	}
	if a.JWTSecret == "" {
		return AuthConfig{}, errors.New("JWT_SECRET is required")
	}
	return a, nil
}

func load(path string) (*koanf.Koanf, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}
	return k, nil
}

func readAuth(r *reader) AuthConfig {
	return AuthConfig{
		JWTSecret:   r.raw("JWT_SECRET"),
		JWTIssuer:   r.str("JWT_ISSUER"),
		JWTAudience: r.str("JWT_AUDIENCE"),
		// Duration values are optional; defaults applied in Validate().
		AccessTokenTTL:  r.duration("JWT_ACCESS_TTL"),
		RefreshTokenTTL: r.duration("JWT_REFRESH_TTL"),
	}
}

func fromKoanf(k *koanf.Koanf) (Config, error) {
	r := reader{k: k}
	c := Config{}

	c.App.Env = r.str("APP_ENV")
	c.App.Port = r.integer("APP_PORT", 8080)

	c.Auth = readAuth(&r)

	c.LiveKit.URL = r.str("LIVEKIT_URL")
	c.LiveKit.APIKey = r.str("LIVEKIT_API_KEY")
	c.LiveKit.APISecret = r.raw("LIVEKIT_API_SECRET")

	c.SIP.InboundTrunkID = r.str("TWILIO_SIP_TRUNK_ID")
	c.SIP.OutboundTrunkID = r.str("TWILIO_OUTBOUND_TRUNK_ID")
	c.SIP.OutboundCallLimit = r.integer("OUTBOUND_CALL_LIMIT", 0)

	c.Webhooks.CallURL = r.str("CALL_WEBHOOK_URL")
	c.Webhooks.EndCallURL = r.str("END_CALL_WEBHOOK_URL")
	c.Webhooks.AppointmentURL = r.str("APPOINTMENT_WEBHOOK_URL")

	c.Session.MinReportDuration = r.seconds("MIN_SESSION_SECONDS_FOR_REPORT", 5*time.Second)
	c.Session.RoomPrefix = r.str("AGENT_ROOM_PREFIX")

	c.Recording.Enabled = r.boolean("ENABLE_EGRESS")
	c.Recording.UseHLS = r.boolean("EGRESS_USE_HLS")
	c.Recording.SegmentDuration = r.integer("EGRESS_SEGMENT_DURATION", 2)
	c.Recording.PlaylistName = r.str("EGRESS_PLAYLIST_NAME")
	c.Recording.LivePlaylistName = r.str("EGRESS_LIVE_PLAYLIST_NAME")
	c.Recording.FilePath = r.str("S3_FILEPATH")
	c.Recording.BaseURL = r.str("RECORDING_BASE_URL")
	c.Recording.S3Bucket = r.str("S3_BUCKET")
	c.Recording.S3AccessKey = r.str("S3_ACCESS_KEY")
	c.Recording.S3SecretKey = r.raw("S3_SECRET_KEY")
	c.Recording.S3Region = r.str("S3_REGION")
	c.Recording.S3Endpoint = r.str("S3_ENDPOINT")
	c.Recording.S3ForcePathStyle = r.boolean("S3_FORCE_PATH_STYLE")

	c.Redis.Addr = r.str("REDIS_ADDR")
	c.Redis.Password = r.raw("REDIS_PASSWORD")
	c.Redis.DB = r.integer("REDIS_DB", 0)
	c.Redis.Channel = r.str("EVENTS_CHANNEL")
	c.Redis.AuditStream = r.str("AUDIT_STREAM")

	c.Tracing.Enabled = r.boolean("TRACING_ENABLED")
	c.Tracing.ServiceName = r.str("TRACING_SERVICE_NAME")

	c.Tasks.Limit = r.integer("BACKGROUND_TASK_LIMIT", 64)

	if err := joinErrors(r.errs); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.LiveKit.URL == "" {
		errs = append(errs, errors.New("LIVEKIT_URL is required"))
	}
	if c.LiveKit.APIKey == "" || c.LiveKit.APISecret == "" {
		errs = append(errs, errors.New("LIVEKIT_API_KEY and LIVEKIT_API_SECRET are required"))
	}

	if c.Session.MinReportDuration < 0 {
		errs = append(errs, errors.New("MIN_SESSION_SECONDS_FOR_REPORT must not be negative"))
	}
	if c.Session.RoomPrefix == "" {
		c.Session.RoomPrefix = "agent_call"
	}

	if c.Recording.SegmentDuration <= 0 {
		errs = append(errs, fmt.Errorf("EGRESS_SEGMENT_DURATION must be positive, got %d", c.Recording.SegmentDuration))
	}
	if c.Recording.Enabled && c.Recording.S3Bucket == "" {
		// Recording degrades to disabled at runtime; production must be explicit.
		if c.IsProduction() {
			errs = append(errs, errors.New("S3_BUCKET is required when ENABLE_EGRESS is set in production"))
		}
	}

	if c.SIP.OutboundCallLimit < 0 {
		errs = append(errs, fmt.Errorf("OUTBOUND_CALL_LIMIT must not be negative, got %d", c.SIP.OutboundCallLimit))
	}
	if c.SIP.OutboundCallLimit > 0 && c.Redis.Addr == "" {
		errs = append(errs, errors.New("OUTBOUND_CALL_LIMIT requires REDIS_ADDR"))
	}

	if c.Redis.DB < 0 {
		errs = append(errs, fmt.Errorf("REDIS_DB must not be negative, got %d", c.Redis.DB))
	}
	if c.Redis.AuditStream == "" {
		c.Redis.AuditStream = "call-audit"
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "call-events"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "voice-telephony"
	}
	if c.Tasks.Limit <= 0 {
		errs = append(errs, fmt.Errorf("BACKGROUND_TASK_LIMIT must be positive, got %d", c.Tasks.Limit))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

// reader pulls flat keys out of koanf and collects parse errors.
type reader struct {
	k    *koanf.Koanf
	errs []error
}

func (r *reader) raw(key string) string {
	return r.k.String(strings.ToLower(key))
}

func (r *reader) str(key string) string {
	return strings.TrimSpace(r.raw(key))
}

func (r *reader) integer(key string, def int) int {
	v := r.str(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return def
	}
	return n
}

func (r *reader) boolean(key string) bool {
	v := strings.ToLower(r.str(key))
	switch v {
	case "":
		return false
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	r.errs = append(r.errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
	return false
}

func (r *reader) duration(key string) time.Duration {
	v := r.str(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be a duration, got %q", key, v))
		return 0
	}
	return d
}

// seconds accepts a plain number of seconds ("5", "2.5") or a duration ("5s").
func (r *reader) seconds(key string, def time.Duration) time.Duration {
	v := r.str(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be a number of seconds, got %q", key, v))
		return def
	}
	return d
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
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
