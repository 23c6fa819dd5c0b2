package goGate

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/goGate/credential"
	"github.com/MrEthical07/goGate/delivery"
	"github.com/MrEthical07/goGate/internal/audit"
	"github.com/MrEthical07/goGate/internal/flows"
	"github.com/MrEthical07/goGate/internal/rate"
	"github.com/MrEthical07/goGate/jwt"
	"github.com/MrEthical07/goGate/killswitch"
	"github.com/MrEthical07/goGate/otp"
	"github.com/MrEthical07/goGate/password"
	"github.com/MrEthical07/goGate/principal"
	"github.com/MrEthical07/goGate/session"
	"github.com/redis/go-redis/v9"
)

// HomePageResolver picks the landing page for a website user.
type HomePageResolver func(ctx context.Context, p *principal.Principal) string

// TwoFactorPolicy decides per login whether a second factor is required.
type TwoFactorPolicy interface {
	TwoFactorRequired(ctx context.Context, tenantID string, p *principal.Principal) (bool, error)
}

// Builder collects dependencies and produces an Engine. A Builder is
// single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	repo   principal.Repository

	authLog   audit.Log
	auditSink audit.Sink
	deliverer otp.Deliverer
	logger    *slog.Logger
	homePage  HomePageResolver
	twoFactor TwoFactorPolicy
	kill      killswitch.Switch
	now       func() time.Time

	loginHooks  []namedLoginHook
	logoutHooks []namedLogoutHook

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client shared by sessions, challenges, throttling and
// the kill-switch flag. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRepository sets the principal repository. Required.
func (b *Builder) WithRepository(repo principal.Repository) *Builder {
	b.repo = repo
	return b
}

// WithAuditLog sets the durable authentication log. When it also counts
// failures, Lockout settings take effect.
func (b *Builder) WithAuditLog(log audit.Log) *Builder {
	b.authLog = log
	return b
}

// WithAuditSink sets the sink fed by the asynchronous audit dispatcher.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.auditSink = sink
	return b
}

// WithDeliverer overrides the outbox built from Config.Delivery.
func (b *Builder) WithDeliverer(d otp.Deliverer) *Builder {
	b.deliverer = d
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithHomePageResolver(fn HomePageResolver) *Builder {
	b.homePage = fn
	return b
}

// WithTwoFactorPolicy replaces the tenant-wide TwoFactor.Enabled switch.
func (b *Builder) WithTwoFactorPolicy(p TwoFactorPolicy) *Builder {
	b.twoFactor = p
	return b
}

// WithKillSwitch adds a switch to those built from Config.Maintenance.
func (b *Builder) WithKillSwitch(s killswitch.Switch) *Builder {
	b.kill = s
	return b
}

// WithClock overrides time.Now for sessions and policy checks.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// RegisterLoginHook makes h available under name. Only names listed in
// Config.Hooks.Login run.
func (b *Builder) RegisterLoginHook(name string, h LoginHook) *Builder {
	b.loginHooks = append(b.loginHooks, namedLoginHook{name: name, hook: h})
	return b
}

// RegisterLogoutHook makes h available under name. Only names listed in
// Config.Hooks.Logout run.
func (b *Builder) RegisterLogoutHook(name string, h LogoutHook) *Builder {
	b.logoutHooks = append(b.logoutHooks, namedLogoutHook{name: name, hook: h})
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration, resolves hooks and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.repo == nil {
		return nil, errors.New("principal repository required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gogate")

	now := b.now
	if now == nil {
		now = time.Now
	}

	location := time.Local
	if cfg.Login.TimeZone != "" {
		loc, err := time.LoadLocation(cfg.Login.TimeZone)
		if err != nil {
			return nil, err
		}
		location = loc
	}

	// -------- CREDENTIALS --------
	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}
	verifier := credential.NewVerifier(b.repo, hasher, credential.Options{
		AllowMobileLogin:   cfg.Login.AllowMobileLogin,
		AllowUsernameLogin: cfg.Login.AllowUsernameLogin,
	}, logger)

	// -------- SESSIONS --------
	sessions := session.NewStore(b.redis, session.Config{
		Prefix:                cfg.Session.RedisPrefix,
		Sliding:               cfg.Session.SlidingExpiration,
		ActivityWriteInterval: cfg.Session.ActivityWriteInterval,
		Now:                   now,
	})

	limiter := rate.New(b.redis, rate.Config{
		Enabled:          cfg.RateLimit.Enabled,
		EnableIPThrottle: cfg.RateLimit.EnableIPThrottle,
		MaxLoginAttempts: cfg.RateLimit.MaxLoginAttempts,
		Window:           cfg.RateLimit.Window,
	})

	// -------- DELIVERY AND OTP --------
	var outbox *delivery.Outbox
	deliverer := b.deliverer
	if deliverer == nil {
		outbox = newOutbox(cfg.Delivery, logger)
		if outbox != nil {
			deliverer = outbox
		}
	}

	otpEngine := otp.NewEngine(
		otp.NewChallengeStore(b.redis, cfg.TwoFactor.RedisPrefix),
		b.repo,
		deliverer,
		otp.Config{
			Issuer:       cfg.TwoFactor.Issuer,
			Digits:       cfg.TwoFactor.Digits,
			Period:       cfg.TwoFactor.Period,
			Skew:         cfg.TwoFactor.Skew,
			ChallengeTTL: cfg.TwoFactor.ChallengeTTL,
			MaxAttempts:  cfg.TwoFactor.MaxAttempts,
		},
	)

	tickets, err := newTicketManager(cfg.Ticket, logger)
	if err != nil {
		return nil, err
	}

	// -------- KILL SWITCH --------
	var fileSwitch *killswitch.File
	switches := killswitch.Any{
		killswitch.Static(cfg.Maintenance.SessionsStopped),
		killswitch.NewRedis(b.redis, cfg.Maintenance.RedisFlagKey),
	}
	if cfg.Maintenance.FlagFile != "" {
		fileSwitch, err = killswitch.NewFile(cfg.Maintenance.FlagFile, logger)
		if err != nil {
			return nil, err
		}
		switches = append(switches, fileSwitch)
	}
	if b.kill != nil {
		switches = append(switches, b.kill)
	}

	engine := &Engine{
		config:     cloneConfig(cfg),
		logger:     logger,
		redis:      b.redis,
		repo:       b.repo,
		hasher:     hasher,
		verifier:   verifier,
		sessions:   sessions,
		limiter:    limiter,
		otp:        otpEngine,
		tickets:    tickets,
		deliverer:  deliverer,
		outbox:     outbox,
		authLog:    b.authLog,
		dispatcher: audit.NewDispatcher(cfg.Audit, b.auditSink),
		kill:       switches,
		fileSwitch: fileSwitch,
		metrics:    NewMetrics(cfg.Metrics),
		homePage:   b.homePage,
		location:   location,
		now:        now,
	}

	// -------- HOOKS --------
	registry := newHookRegistry()
	engine.registerBuiltinHooks(registry)
	for _, h := range b.loginHooks {
		if err := registry.addLogin(h.name, h.hook); err != nil {
			engine.Close()
			return nil, err
		}
	}
	for _, h := range b.logoutHooks {
		if err := registry.addLogout(h.name, h.hook); err != nil {
			engine.Close()
			return nil, err
		}
	}
	engine.loginHooks, engine.logoutHooks, err = registry.resolve(cfg.Hooks)
	if err != nil {
		engine.Close()
		return nil, err
	}

	// -------- FLOWS --------
	engine.flow = flows.New(engine.flowDeps(b.twoFactor))

	b.built = true
	return engine, nil
}

func (e *Engine) flowDeps(policy TwoFactorPolicy) flows.Deps {
	login := flows.LoginDeps{
		Verifier:                       e.verifier,
		Throttle:                       e.limiter,
		DummyVerify:                    e.hasher.VerifyDummy,
		BypassTwoFactorForRestrictedIP: e.config.TwoFactor.BypassForRestrictedIPUsers,
		IssueChallenge:                 e.issueChallenge,
		Location:                       e.location,
		Now:                            e.now,
		Warn:                           e.logger.Warn,
	}
	if counter, ok := e.authLog.(audit.FailureCounter); ok && e.config.Lockout.Threshold > 0 {
		login.CountFailures = counter.CountFailures
		login.LockoutThreshold = e.config.Lockout.Threshold
		login.LockoutWindow = e.config.Lockout.Window
	}
	switch {
	case policy != nil:
		login.TwoFactorRequired = policy.TwoFactorRequired
	case e.config.TwoFactor.Enabled:
		login.TwoFactorRequired = func(context.Context, string, *principal.Principal) (bool, error) {
			return true, nil
		}
	}

	return flows.Deps{
		Login: login,
		Confirm: flows.ConfirmDeps{
			VerifyChallenge: e.otp.Verify,
			LoadPrincipal: func(ctx context.Context, id string) (*principal.Principal, error) {
				return principal.Load(ctx, e.repo, id)
			},
			Location: e.location,
			Now:      e.now,
		},
		Logout: flows.LogoutDeps{
			Sessions: sessionReaper{e: e},
			RunHooks: e.runLogoutHooks,
		},
	}
}

func (e *Engine) issueChallenge(ctx context.Context, tenantID string, p *principal.Principal) (*otp.Issued, error) {
	ch, ok := e.config.TwoFactor.Channel()
	if !ok {
		return nil, otp.ErrUnsupportedChannel
	}
	return e.otp.Issue(ctx, tenantID, p, ch)
}

// newOutbox builds the delivery outbox from whichever transports are
// configured. It returns nil when none is.
func newOutbox(cfg DeliveryConfig, logger *slog.Logger) *delivery.Outbox {
	var mailer delivery.Mailer
	if m := delivery.NewSMTPMailer(cfg.SMTP); m != nil {
		mailer = m
	}
	var sms delivery.SMSGateway
	if g := delivery.NewHTTPSMSGateway(cfg.SMS, nil); g != nil {
		sms = g
	}
	if mailer == nil && sms == nil {
		return nil
	}
	return delivery.NewOutbox(cfg.Outbox, mailer, sms, logger)
}

func newTicketManager(cfg TicketConfig, logger *slog.Logger) (*jwt.Manager, error) {
	method := jwt.SigningMethod(strings.ToLower(cfg.SigningMethod))
	jc := jwt.Config{
		TTL:           cfg.TTL,
		SigningMethod: method,
		PrivateKey:    []byte(cfg.SigningKey),
		PublicKey:     []byte(cfg.PublicKey),
		Issuer:        cfg.Issuer,
	}
	if method == jwt.MethodHS256 && len(jc.PrivateKey) == 0 {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate ticket key: %w", err)
		}
		jc.PrivateKey = key
		logger.Warn("ticket signing key not configured; using a per-process key")
	}
	return jwt.NewManager(jc)
}
