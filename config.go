package goGate

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/MrEthical07/goGate/cookie"
	"github.com/MrEthical07/goGate/delivery"
	"github.com/MrEthical07/goGate/internal/audit"
	"github.com/MrEthical07/goGate/killswitch"
	"github.com/MrEthical07/goGate/otp"
	"github.com/MrEthical07/goGate/password"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override read by LoadConfig.
const EnvPrefix = "GOGATE_"

// Config is the full engine configuration. Zero values are not usable; start
// from DefaultConfig.
type Config struct {
	Session   SessionConfig   `toml:"session" envPrefix:"SESSION_"`
	Cookie    cookie.Policy   `toml:"cookie" envPrefix:"COOKIE_"`
	CSRF      CSRFConfig      `toml:"csrf" envPrefix:"CSRF_"`
	Login     LoginConfig     `toml:"login" envPrefix:"LOGIN_"`
	TwoFactor TwoFactorConfig `toml:"two_factor" envPrefix:"TWO_FACTOR_"`
	Password  password.Config `toml:"password" envPrefix:"PASSWORD_"`
	RateLimit RateLimitConfig `toml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Lockout   LockoutConfig   `toml:"lockout" envPrefix:"LOCKOUT_"`
	Audit     audit.Config    `toml:"audit" envPrefix:"AUDIT_"`
	Metrics   MetricsConfig   `toml:"metrics" envPrefix:"METRICS_"`
	Delivery  DeliveryConfig  `toml:"delivery" envPrefix:"DELIVERY_"`
	Ticket    TicketConfig    `toml:"ticket" envPrefix:"TICKET_"`
	Hooks     HooksConfig     `toml:"hooks" envPrefix:"HOOKS_"`

	Maintenance MaintenanceConfig `toml:"maintenance" envPrefix:"MAINTENANCE_"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session lifetime and the multi-session policy.
type SessionConfig struct {
	RedisPrefix string        `toml:"redis_prefix" env:"REDIS_PREFIX"`
	TTL         time.Duration `toml:"ttl" env:"TTL"`
	// MobileTTL applies to sessions created with device class "mobile".
	MobileTTL             time.Duration `toml:"mobile_ttl" env:"MOBILE_TTL"`
	SlidingExpiration     bool          `toml:"sliding_expiration" env:"SLIDING_EXPIRATION"`
	ActivityWriteInterval time.Duration `toml:"activity_write_interval" env:"ACTIVITY_WRITE_INTERVAL"`
	// DenyMultipleSessions is the only switch for single-session-per-user.
	DenyMultipleSessions bool `toml:"deny_multiple_sessions" env:"DENY_MULTIPLE_SESSIONS"`
	PurgeInterval        time.Duration `toml:"purge_interval" env:"PURGE_INTERVAL"`
}

/*
====================================
CSRF CONFIG
====================================
*/

type CSRFConfig struct {
	// Disabled turns the check off for every request.
	Disabled  bool   `toml:"disabled" env:"DISABLED"`
	Header    string `toml:"header" env:"HEADER"`
	FormField string `toml:"form_field" env:"FORM_FIELD"`
	// NonBrowserDevices are device classes exempt from the check.
	NonBrowserDevices []string `toml:"non_browser_devices" env:"NON_BROWSER_DEVICES"`
}

/*
====================================
LOGIN CONFIG
====================================
*/

type LoginConfig struct {
	AllowMobileLogin   bool `toml:"allow_mobile_login" env:"ALLOW_MOBILE_LOGIN"`
	AllowUsernameLogin bool `toml:"allow_username_login" env:"ALLOW_USERNAME_LOGIN"`
	// MaxSystemUsers caps enabled system users per tenant; zero disables.
	MaxSystemUsers int `toml:"max_system_users" env:"MAX_SYSTEM_USERS"`
	// TimeZone is the IANA zone used for login-hour windows.
	TimeZone string `toml:"time_zone" env:"TIME_ZONE"`
	// AdminLoginRecipients receive the administrator access notification.
	AdminLoginRecipients []string `toml:"admin_login_recipients" env:"ADMIN_LOGIN_RECIPIENTS"`
	SiteURL              string   `toml:"site_url" env:"SITE_URL"`
	DeskHomePage         string   `toml:"desk_home_page" env:"DESK_HOME_PAGE"`
	WebsiteHomePage      string   `toml:"website_home_page" env:"WEBSITE_HOME_PAGE"`
}

/*
====================================
TWO FACTOR CONFIG
====================================
*/

type TwoFactorConfig struct {
	Enabled                    bool          `toml:"enabled" env:"ENABLED"`
	Method                     string        `toml:"method" env:"METHOD"`
	Issuer                     string        `toml:"issuer" env:"ISSUER"`
	Digits                     int           `toml:"digits" env:"DIGITS"`
	Period                     time.Duration `toml:"period" env:"PERIOD"`
	Skew                       int           `toml:"skew" env:"SKEW"`
	ChallengeTTL               time.Duration `toml:"challenge_ttl" env:"CHALLENGE_TTL"`
	MaxAttempts                int           `toml:"max_attempts" env:"MAX_ATTEMPTS"`
	BypassForRestrictedIPUsers bool          `toml:"bypass_for_restricted_ip_users" env:"BYPASS_FOR_RESTRICTED_IP_USERS"`
	RedisPrefix                string        `toml:"redis_prefix" env:"REDIS_PREFIX"`
}

// Channel parses Method.
func (c TwoFactorConfig) Channel() (otp.Channel, bool) {
	return otp.ParseChannel(c.Method)
}

/*
====================================
THROTTLE AND LOCKOUT CONFIG
====================================
*/

type RateLimitConfig struct {
	Enabled          bool          `toml:"enabled" env:"ENABLED"`
	EnableIPThrottle bool          `toml:"enable_ip_throttle" env:"ENABLE_IP_THROTTLE"`
	MaxLoginAttempts int           `toml:"max_login_attempts" env:"MAX_LOGIN_ATTEMPTS"`
	Window           time.Duration `toml:"window" env:"WINDOW"`
}

// LockoutConfig drives the audit-log based lockout. It needs an audit log
// that can count failures.
type LockoutConfig struct {
	Threshold int           `toml:"threshold" env:"THRESHOLD"`
	Window    time.Duration `toml:"window" env:"WINDOW"`
}

/*
====================================
METRICS, DELIVERY, TICKET, HOOKS
====================================
*/

type MetricsConfig struct {
	Enabled                 bool `toml:"enabled" env:"ENABLED"`
	EnableLatencyHistograms bool `toml:"enable_latency_histograms" env:"ENABLE_LATENCY_HISTOGRAMS"`
}

type DeliveryConfig struct {
	Outbox delivery.Config     `toml:"outbox" envPrefix:"OUTBOX_"`
	SMTP   delivery.SMTPConfig `toml:"smtp" envPrefix:"SMTP_"`
	SMS    delivery.SMSConfig  `toml:"sms" envPrefix:"SMS_"`
}

// TicketConfig signs the challenge ticket handed to the client while a
// second factor is pending.
type TicketConfig struct {
	TTL           time.Duration `toml:"ttl" env:"TTL"`
	SigningMethod string        `toml:"signing_method" env:"SIGNING_METHOD"`
	// SigningKey is the HS256 secret or the Ed25519 private key PEM. An
	// empty HS256 key is replaced by a random per-process key.
	SigningKey string `toml:"signing_key" env:"SIGNING_KEY"`
	PublicKey  string `toml:"public_key" env:"PUBLIC_KEY"`
	Issuer     string `toml:"issuer" env:"ISSUER"`
}

// HooksConfig lists hook names in invocation order. Every name must be
// registered before Build.
type HooksConfig struct {
	Login  []string `toml:"login" env:"LOGIN"`
	Logout []string `toml:"logout" env:"LOGOUT"`
}

// MaintenanceConfig selects the "sessions stopped" kill-switch sources.
// Any source reporting stopped stops the site.
type MaintenanceConfig struct {
	SessionsStopped bool   `toml:"sessions_stopped" env:"SESSIONS_STOPPED"`
	RedisFlagKey    string `toml:"redis_flag_key" env:"REDIS_FLAG_KEY"`
	FlagFile        string `toml:"flag_file" env:"FLAG_FILE"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			RedisPrefix:           "gs",
			TTL:                   72 * time.Hour,
			MobileTTL:             720 * time.Hour,
			SlidingExpiration:     true,
			ActivityWriteInterval: time.Minute,
			PurgeInterval:         10 * time.Minute,
		},
		Cookie: cookie.Policy{
			Path:        "/",
			Secure:      true,
			HTTPOnlySID: true,
		},
		CSRF: CSRFConfig{
			Header:            "X-Csrf-Token",
			FormField:         "csrf_token",
			NonBrowserDevices: []string{DeviceMobile},
		},
		Login: LoginConfig{
			DeskHomePage:    "/desk",
			WebsiteHomePage: "/me",
		},
		TwoFactor: TwoFactorConfig{
			Method:       otp.ChannelApp.String(),
			Issuer:       "goGate",
			Digits:       6,
			Period:       30 * time.Second,
			Skew:         1,
			ChallengeTTL: 5 * time.Minute,
			MaxAttempts:  5,
			RedisPrefix:  "goc",
		},
		Password: password.DefaultConfig(),
		RateLimit: RateLimitConfig{
			Enabled:          true,
			EnableIPThrottle: false,
			MaxLoginAttempts: 10,
			Window:           5 * time.Minute,
		},
		Lockout: LockoutConfig{
			Threshold: 0,
			Window:    time.Hour,
		},
		Audit: audit.Config{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Delivery: DeliveryConfig{
			Outbox: delivery.DefaultConfig(),
		},
		Ticket: TicketConfig{
			TTL:           10 * time.Minute,
			SigningMethod: "hs256",
			Issuer:        "goGate",
		},
		Hooks: HooksConfig{
			Login:  []string{HookResetLoginThrottle, HookMaxUsers, HookRecordLastLogin, HookNotifyAdministratorLogin},
			Logout: []string{},
		},
		Maintenance: MaintenanceConfig{
			RedisFlagKey: killswitch.DefaultRedisKey,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.CSRF.NonBrowserDevices = append([]string(nil), cfg.CSRF.NonBrowserDevices...)
	out.Login.AdminLoginRecipients = append([]string(nil), cfg.Login.AdminLoginRecipients...)
	out.Hooks.Login = append([]string(nil), cfg.Hooks.Login...)
	out.Hooks.Logout = append([]string(nil), cfg.Hooks.Logout...)
	if cfg.Delivery.SMS.StaticParams != nil {
		out.Delivery.SMS.StaticParams = make(map[string]string, len(cfg.Delivery.SMS.StaticParams))
		for k, v := range cfg.Delivery.SMS.StaticParams {
			out.Delivery.SMS.StaticParams[k] = v
		}
	}
	return out
}

/*
====================================
LOADING
====================================
*/

// LoadConfig layers DefaultConfig, the TOML file at path (skipped when
// path is empty) and GOGATE_* environment overrides, then validates.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return Config{}, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix, Environment: environ()}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func environ() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, EnvPrefix) {
			out[k] = v
		}
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.MobileTTL < 0 {
		return errors.New("Session MobileTTL must be >= 0")
	}
	if c.Session.ActivityWriteInterval < 0 {
		return errors.New("Session ActivityWriteInterval must be >= 0")
	}
	if c.Session.PurgeInterval < 0 {
		return errors.New("Session PurgeInterval must be >= 0")
	}
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must be set")
	}

	if !c.CSRF.Disabled && c.CSRF.Header == "" && c.CSRF.FormField == "" {
		return errors.New("CSRF requires a header or form field name")
	}

	if c.Login.MaxSystemUsers < 0 {
		return errors.New("Login MaxSystemUsers must be >= 0")
	}
	if c.Login.TimeZone != "" {
		if _, err := time.LoadLocation(c.Login.TimeZone); err != nil {
			return fmt.Errorf("Login TimeZone: %w", err)
		}
	}

	if c.TwoFactor.Enabled {
		if _, ok := c.TwoFactor.Channel(); !ok {
			return fmt.Errorf("unsupported TwoFactor Method %q", c.TwoFactor.Method)
		}
		if c.TwoFactor.Digits != 6 && c.TwoFactor.Digits != 8 {
			return errors.New("TwoFactor Digits must be 6 or 8")
		}
		if c.TwoFactor.Period < time.Second {
			return errors.New("TwoFactor Period must be >= 1s")
		}
		if c.TwoFactor.Skew < 0 || c.TwoFactor.Skew > 2 {
			return errors.New("TwoFactor Skew must be between 0 and 2")
		}
		if c.TwoFactor.ChallengeTTL <= 0 {
			return errors.New("TwoFactor ChallengeTTL must be > 0")
		}
		if c.TwoFactor.MaxAttempts <= 0 {
			return errors.New("TwoFactor MaxAttempts must be > 0")
		}
		if c.Ticket.TTL < c.TwoFactor.ChallengeTTL {
			return errors.New("Ticket TTL must cover TwoFactor ChallengeTTL")
		}
	}

	if err := c.Password.Validate(); err != nil {
		return err
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.MaxLoginAttempts <= 0 {
			return errors.New("RateLimit MaxLoginAttempts must be > 0")
		}
		if c.RateLimit.Window <= 0 {
			return errors.New("RateLimit Window must be > 0")
		}
	}

	if c.Lockout.Threshold < 0 {
		return errors.New("Lockout Threshold must be >= 0")
	}
	if c.Lockout.Threshold > 0 && c.Lockout.Window <= 0 {
		return errors.New("Lockout Window must be > 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	switch strings.ToLower(c.Ticket.SigningMethod) {
	case "hs256":
		if c.Ticket.SigningKey != "" && len(c.Ticket.SigningKey) < 32 {
			return errors.New("Ticket SigningKey must be at least 32 bytes")
		}
	case "ed25519":
		if c.Ticket.SigningKey == "" || c.Ticket.PublicKey == "" {
			return errors.New("Ticket ed25519 requires SigningKey and PublicKey")
		}
	default:
		return errors.New("unsupported Ticket SigningMethod")
	}
	if c.Ticket.TTL <= 0 {
		return errors.New("Ticket TTL must be > 0")
	}

	return nil
}
