package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrClosed        = errors.New("delivery outbox closed")
	ErrQueueFull     = errors.New("delivery queue full")
	ErrNotConfigured = errors.New("delivery channel not configured")
	ErrNoRecipient   = errors.New("delivery recipient missing")
	ErrRejected      = errors.New("delivery rejected by gateway")
)

// Mailer sends one email.
type Mailer interface {
	SendMail(ctx context.Context, recipient, subject, body string) error
}

// SMSGateway sends one text message and reports the gateway HTTP status.
type SMSGateway interface {
	SendSMS(ctx context.Context, recipient, message string) (int, error)
}

// Config tunes an Outbox.
type Config struct {
	QueueSize     int           `toml:"queue_size" env:"QUEUE_SIZE"`
	Workers       int           `toml:"workers" env:"WORKERS"`
	RatePerSecond float64       `toml:"rate_per_second" env:"RATE_PER_SECOND"`
	Burst         int           `toml:"burst" env:"BURST"`
	SendTimeout   time.Duration `toml:"send_timeout" env:"SEND_TIMEOUT"`
	Retries       int           `toml:"retries" env:"RETRIES"`
}

// DefaultConfig returns conservative outbound limits.
func DefaultConfig() Config {
	return Config{
		QueueSize:     256,
		Workers:       2,
		RatePerSecond: 10,
		Burst:         5,
		SendTimeout:   10 * time.Second,
		Retries:       2,
	}
}

type kind uint8

const (
	kindMail kind = iota + 1
	kindSMS
)

func (k kind) String() string {
	if k == kindMail {
		return "mail"
	}
	return "sms"
}

type message struct {
	kind      kind
	recipient string
	subject   string
	body      string
}

// Outbox queues messages for background delivery.
type Outbox struct {
	cfg     Config
	mailer  Mailer
	sms     SMSGateway
	limiter *rate.Limiter
	logger  *slog.Logger

	ch        chan message
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	// mu orders enqueue against Close so nothing lands in ch after the
	// workers begin their final drain.
	mu     sync.RWMutex
	closed bool

	sent   atomic.Uint64
	failed atomic.Uint64

	// OnFailure is called after a message exhausts its retries.
	OnFailure func()
}

// NewOutbox starts the worker pool. Either collaborator may be nil.
func NewOutbox(cfg Config, mailer Mailer, sms SMSGateway, logger *slog.Logger) *Outbox {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := &Outbox{
		cfg:     cfg,
		mailer:  mailer,
		sms:     sms,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logger.With("component", "delivery"),
		ch:      make(chan message, cfg.QueueSize),
		done:    make(chan struct{}),
	}

	o.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go o.run()
	}
	return o
}

// EnqueueMail queues an email.
func (o *Outbox) EnqueueMail(_ context.Context, to, subject, body string) error {
	if o == nil || o.mailer == nil {
		return ErrNotConfigured
	}
	return o.enqueue(message{kind: kindMail, recipient: to, subject: subject, body: body})
}

// EnqueueSMS queues a text message.
func (o *Outbox) EnqueueSMS(_ context.Context, to, body string) error {
	if o == nil || o.sms == nil {
		return ErrNotConfigured
	}
	return o.enqueue(message{kind: kindSMS, recipient: to, body: body})
}

func (o *Outbox) enqueue(m message) error {
	if m.recipient == "" {
		return ErrNoRecipient
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrClosed
	}
	select {
	case o.ch <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

func (o *Outbox) run() {
	defer o.wg.Done()
	for {
		select {
		case m := <-o.ch:
			o.deliver(m)
		case <-o.done:
			for {
				select {
				case m := <-o.ch:
					o.deliver(m)
				default:
					return
				}
			}
		}
	}
}

func (o *Outbox) deliver(m message) {
	var err error
	for attempt := 0; attempt <= o.cfg.Retries; attempt++ {
		if err = o.send(m); err == nil {
			o.sent.Add(1)
			return
		}
	}
	o.failed.Add(1)
	o.logger.Warn("delivery failed", "kind", m.kind.String(), "recipient", m.recipient, "error", err)
	if o.OnFailure != nil {
		o.OnFailure()
	}
}

func (o *Outbox) send(m message) error {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.SendTimeout)
	defer cancel()

	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}

	switch m.kind {
	case kindMail:
		return o.mailer.SendMail(ctx, m.recipient, m.subject, m.body)
	case kindSMS:
		status, err := o.sms.SendSMS(ctx, m.recipient, m.body)
		if err != nil {
			return err
		}
		if status < 200 || status >= 300 {
			return fmt.Errorf("%w: status %d", ErrRejected, status)
		}
		return nil
	default:
		return ErrNotConfigured
	}
}

// Close stops accepting messages and waits for queued ones to be attempted.
func (o *Outbox) Close() {
	if o == nil {
		return
	}
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		o.mu.Unlock()
		close(o.done)
		o.wg.Wait()
	})
}

// Stats reports delivered and failed message counts.
func (o *Outbox) Stats() (sent, failed uint64) {
	if o == nil {
		return 0, 0
	}
	return o.sent.Load(), o.failed.Load()
}
