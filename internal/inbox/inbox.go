// Package inbox guards a receive endpoint against duplicate deliveries. The
// first delivery of a message id claims a marker in Redis; later deliveries
// of the same id are acknowledged without reaching the consumers until the
// marker expires.
package inbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"conduit/internal/config"
	"conduit/internal/constants"
	"conduit/internal/logger"
	"conduit/pkg/consume"
	pkgerrors "conduit/pkg/errors"
	"conduit/pkg/metrics"
	"conduit/pkg/models"
	"conduit/pkg/pipe"
)

const (
	StatusUnique    = "unique"
	StatusDuplicate = "duplicate"
	StatusReleased  = "released"
	StatusUnguarded = "unguarded"
	StatusError     = "error"
)

type Config struct {
	TTL          time.Duration
	OnRedisError string
	KeyPrefix    string
}

func ConfigFrom(cfg config.InboxConfig) Config {
	return Config{
		TTL:          time.Duration(cfg.TTLSeconds) * time.Second,
		OnRedisError: strings.ToLower(cfg.OnRedisError),
		KeyPrefix:    constants.CacheKeyPrefixInbox,
	}
}

type Inbox struct {
	repo   Repository
	cfg    Config
	logger logger.Logger
	now    func() time.Time
}

func New(repo Repository, cfg Config, log logger.Logger) *Inbox {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = constants.CacheKeyPrefixInbox
	}
	if cfg.OnRedisError == "" {
		cfg.OnRedisError = constants.FallbackDeny
	}
	if log == nil {
		log = logger.NopLogger()
	}
	return &Inbox{repo: repo, cfg: cfg, logger: log, now: time.Now}
}

func (i *Inbox) key(endpoint, messageID string) string {
	return i.cfg.KeyPrefix + endpoint + ":" + messageID
}

// Claim records the first delivery of messageID on endpoint. It reports false
// for every later delivery while the marker lives.
func (i *Inbox) Claim(ctx context.Context, endpoint, messageID string) (bool, error) {
	return i.repo.SetNX(ctx, i.key(endpoint, messageID), i.now().Unix(), i.cfg.TTL)
}

// Release forgets messageID so a redelivery is consumed again.
func (i *Inbox) Release(ctx context.Context, endpoint, messageID string) error {
	return i.repo.Delete(ctx, i.key(endpoint, messageID))
}

// Size counts live markers across all endpoints.
func (i *Inbox) Size(ctx context.Context) (int, error) {
	return i.repo.Size(ctx, i.cfg.KeyPrefix)
}

type filter struct {
	inbox *Inbox
}

func (f *filter) Send(ctx context.Context, c *consume.Context, next pipe.Pipe[*consume.Context]) error {
	messageID := c.MessageID()
	if messageID == "" {
		metrics.IncInboxMessages(c.Endpoint, StatusUnguarded)
		f.inbox.logger.WarnwCtx(ctx, "Message has no id, inbox check skipped")
		return next.Send(ctx, c)
	}

	claimed, err := f.inbox.Claim(ctx, c.Endpoint, messageID)
	if err != nil {
		metrics.IncInboxMessages(c.Endpoint, StatusError)
		if f.inbox.cfg.OnRedisError == constants.FallbackAllow {
			metrics.IncFallbackUsage("inbox", "allow_on_error", "redis_error")
			f.inbox.logger.WarnwCtx(ctx, "Redis error during inbox check, allowing message (fallback: allow)",
				"error", err,
			)
			return next.Send(ctx, c)
		}
		metrics.IncFallbackUsage("inbox", "deny_on_error", "redis_error")
		return pkgerrors.ErrServiceUnavailable.WithCause(err).
			WithDetail("message", fmt.Sprintf("inbox check failed for message %s", messageID)).
			AsRetryable()
	}

	f.markEnvelope(c, claimed)

	if !claimed {
		metrics.IncInboxMessages(c.Endpoint, StatusDuplicate)
		f.inbox.logger.InfowCtx(ctx, "Duplicate delivery acknowledged without consuming")
		return nil
	}
	metrics.IncInboxMessages(c.Endpoint, StatusUnique)

	if err := next.Send(ctx, c); err != nil {
		if releaseErr := f.inbox.Release(context.WithoutCancel(ctx), c.Endpoint, messageID); releaseErr != nil {
			f.inbox.logger.WarnwCtx(ctx, "Failed to release inbox marker, redelivery will be treated as duplicate",
				"error", releaseErr,
			)
		} else {
			metrics.IncInboxMessages(c.Endpoint, StatusReleased)
		}
		return err
	}

	return nil
}

func (f *filter) markEnvelope(c *consume.Context, unique bool) {
	if c.Envelope == nil {
		return
	}
	c.Envelope.Metadata.Inbox = &models.InboxInfo{
		IsUnique:  unique,
		CheckedAt: f.inbox.now(),
	}
}

func (f *filter) Probe(pc pipe.ProbeContext) {
	scope := pc.CreateFilterScope("inbox")
	scope.Add("ttl", f.inbox.cfg.TTL.String())
	scope.Add("onRedisError", f.inbox.cfg.OnRedisError)
}

type specification struct {
	inbox *Inbox
}

// UseInbox drops duplicate deliveries before they reach the scope and the
// consumers. A failure further down releases the claim.
func UseInbox(inbox *Inbox) pipe.Specification[*consume.Context] {
	return &specification{inbox: inbox}
}

func (s *specification) Apply(b pipe.Builder[*consume.Context]) {
	metrics.RegisterPipelineMetrics()
	b.AddFilter(&filter{inbox: s.inbox})
}

func (s *specification) Validate() []pipe.ValidationResult {
	if s.inbox == nil || s.inbox.repo == nil {
		return []pipe.ValidationResult{pipe.Failed("inbox", "must not be nil")}
	}

	var results []pipe.ValidationResult
	if s.inbox.cfg.TTL <= 0 {
		results = append(results, pipe.Failed("inbox.ttl", "must be positive"))
	}
	switch s.inbox.cfg.OnRedisError {
	case constants.FallbackAllow, constants.FallbackDeny:
	default:
		results = append(results, pipe.Failed("inbox.onRedisError", "must be allow or deny"))
	}
	return results
}
