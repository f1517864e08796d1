package phoneauth

import (
	"errors"

	"github.com/viznet/phoneauth/kv"
	"github.com/viznet/phoneauth/notify"
	"github.com/viznet/phoneauth/once"
	"github.com/viznet/phoneauth/password"
	"github.com/viznet/phoneauth/store"
)

// Builder defines a public type used by phoneauth APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	kv     kv.Store

	otps     store.OTPStore
	tokens   store.TokenStore
	subjects SubjectProvider
	notifier notify.Notifier

	auditSink AuditSink

	built bool
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig may return an error when input validation, dependency calls, or security checks fail.
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithKV describes the withkv operation and its observable behavior.
//
// WithKV may return an error when input validation, dependency calls, or security checks fail.
// WithKV does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithKV(s kv.Store) *Builder {
	b.kv = s
	return b
}

// WithOTPStore describes the withotpstore operation and its observable behavior.
//
// WithOTPStore may return an error when input validation, dependency calls, or security checks fail.
// WithOTPStore does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithOTPStore(s store.OTPStore) *Builder {
	b.otps = s
	return b
}

// WithTokenStore describes the withtokenstore operation and its observable behavior.
//
// WithTokenStore may return an error when input validation, dependency calls, or security checks fail.
// WithTokenStore does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithTokenStore(s store.TokenStore) *Builder {
	b.tokens = s
	return b
}

// WithSubjectProvider describes the withsubjectprovider operation and its observable behavior.
//
// WithSubjectProvider may return an error when input validation, dependency calls, or security checks fail.
// WithSubjectProvider does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithSubjectProvider(sp SubjectProvider) *Builder {
	b.subjects = sp
	return b
}

// WithNotifier describes the withnotifier operation and its observable behavior.
//
// WithNotifier may return an error when input validation, dependency calls, or security checks fail.
// WithNotifier does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithNotifier(n notify.Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink may return an error when input validation, dependency calls, or security checks fail.
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled may return an error when input validation, dependency calls, or security checks fail.
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms describes the withlatencyhistograms operation and its observable behavior.
//
// WithLatencyHistograms may return an error when input validation, dependency calls, or security checks fail.
// WithLatencyHistograms does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.kv == nil {
		return nil, errors.New("kv store required")
	}
	if b.otps == nil {
		return nil, errors.New("otp store required")
	}
	if b.tokens == nil {
		return nil, errors.New("token store required")
	}
	if b.subjects == nil {
		return nil, errors.New("subject provider required")
	}

	engine := &Engine{
		config:   cfg,
		kv:       b.kv,
		otps:     b.otps,
		tokens:   b.tokens,
		subjects: b.subjects,
		notifier: b.notifier,
	}

	engine.limiter = newOTPLimiter(b.kv, cfg.OTP)
	engine.rotationGuard = once.New(b.kv,
		once.WithLockTTL(cfg.Token.RotationLockTTL),
		once.WithRetryWait(cfg.Token.RotationLockWait),
		once.WithResultTTL(cfg.Token.GraceWindow),
	)
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph

	b.built = true

	return engine, nil
}
