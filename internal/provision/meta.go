package provision

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/user-provisioner/internal/account"
	"github.com/cuongbtq/user-provisioner/internal/payload"
)

const defaultMaxKeyRetries = 3

// MetaConfig configures a MetaApplier.
type MetaConfig struct {
	// AllowedKeys restricts the writable keys of items scheduled without a
	// KeyMode; nil accepts every key.
	AllowedKeys []string
	// RetryGroup is the group of single-key retry jobs.
	RetryGroup string
	// RetryDelay postpones single-key retry jobs.
	RetryDelay time.Duration
	// MaxKeyRetries bounds how often one key is re-enqueued; zero means 3.
	MaxKeyRetries int
}

// MetaApplier writes metadata to existing accounts. A key that fails to
// store is re-enqueued alone as a new job on HookUserMeta.
type MetaApplier struct {
	store      account.Store
	enqueuer   Enqueuer
	allowed    map[string]struct{}
	retryGroup string
	retryDelay time.Duration
	maxRetries int
	now        func() time.Time
	logger     *slog.Logger
	errLog     *slog.Logger
}

// NewMetaApplier creates a new MetaApplier. enqueuer may be nil, in which
// case failing keys are only logged.
func NewMetaApplier(store account.Store, enqueuer Enqueuer, cfg MetaConfig, logger, errLog *slog.Logger) *MetaApplier {
	var allowed map[string]struct{}
	if cfg.AllowedKeys != nil {
		allowed = make(map[string]struct{}, len(cfg.AllowedKeys))
		for _, k := range cfg.AllowedKeys {
			allowed[k] = struct{}{}
		}
	}

	maxRetries := cfg.MaxKeyRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxKeyRetries
	}

	return &MetaApplier{
		store:      store,
		enqueuer:   enqueuer,
		allowed:    allowed,
		retryGroup: cfg.RetryGroup,
		retryDelay: cfg.RetryDelay,
		maxRetries: maxRetries,
		now:        time.Now,
		logger:     logger,
		errLog:     errLog,
	}
}

// Apply writes one item's metadata.
func (a *MetaApplier) Apply(ctx context.Context, rec MetaRecord) Outcome {
	user, err := ResolveUser(ctx, a.store, rec)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			a.errLog.Warn("user not found",
				slog.Int64("user_id", rec.UserID),
				slog.String("login", rec.Login),
				slog.String("email", rec.Email),
			)
			return Outcome{Status: StatusNotFound}
		}
		a.errLog.Error("user lookup failed",
			slog.Int64("user_id", rec.UserID),
			slog.String("login", rec.Login),
			slog.String("error", err.Error()),
		)
		return Outcome{Status: StatusFailed, Err: err}
	}

	type entry struct{ key, value string }
	var entries []entry
	for _, key := range sortedKeys(rec.Meta) {
		if a.allowed != nil && rec.KeyMode == "" {
			if _, ok := a.allowed[key]; !ok {
				continue
			}
		}
		value, ok, err := metaValue(rec.Meta[key])
		if err != nil {
			a.errLog.Error("meta value not serializable",
				slog.Int64("user_id", user.ID),
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !ok {
			continue
		}
		entries = append(entries, entry{key, value})
	}

	if len(entries) == 0 {
		return Outcome{Status: StatusNothingToUpdate, UserID: user.ID}
	}

	out := Outcome{Status: StatusUpdated, UserID: user.ID}
	for _, e := range entries {
		if err := a.store.SetMeta(ctx, user.ID, e.key, e.value); err != nil {
			a.errLog.Error("set meta failed",
				slog.Int64("user_id", user.ID),
				slog.String("key", e.key),
				slog.Int("attempt", rec.Attempt),
				slog.String("error", err.Error()),
			)
			if a.retryKey(ctx, user.ID, e.key, e.value, rec) {
				out.Retried++
			}
			continue
		}
		out.Updated++
	}

	return out
}

// retryKey schedules a job carrying just this key.
func (a *MetaApplier) retryKey(ctx context.Context, userID int64, key, value string, rec MetaRecord) bool {
	attempt := rec.Attempt
	if a.enqueuer == nil {
		return false
	}
	if attempt >= a.maxRetries {
		a.errLog.Error("meta key dropped after retries",
			slog.Int64("user_id", userID),
			slog.String("key", key),
			slog.Int("attempts", attempt),
		)
		return false
	}

	retry := MetaRecord{
		UserID:  userID,
		Meta:    map[string]any{key: value},
		Attempt: attempt + 1,
		KeyMode: rec.KeyMode,
	}
	runAt := a.now().Add(a.retryDelay).Unix()

	handle, err := a.enqueuer.Schedule(ctx, runAt, HookUserMeta, retry, a.retryGroup)
	if err != nil || handle == "" {
		attrs := []any{
			slog.Int64("user_id", userID),
			slog.String("key", key),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		a.errLog.Error("meta retry enqueue failed", attrs...)
		return false
	}

	a.logger.Info("Meta key re-enqueued",
		slog.Int64("user_id", userID),
		slog.String("key", key),
		slog.String("job_id", handle),
		slog.Int("attempt", retry.Attempt),
	)
	return true
}

// ApplyPayload normalizes a scheduled payload and applies its items in order.
func (a *MetaApplier) ApplyPayload(ctx context.Context, data []byte) (*Summary, error) {
	decoded, err := payload.Decode(data)
	if err != nil {
		return nil, err
	}

	items, shape := payload.Classify(decoded, IsMetaItem)
	summary := newSummary(string(shape))
	if shape == payload.ShapeUnknown {
		a.logger.Warn("Unrecognized user meta payload",
			slog.Int("bytes", len(data)),
		)
		return summary, nil
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		m, ok := item.(map[string]any)
		if !ok {
			summary.add(Outcome{Status: StatusSkipped, Reason: ReasonNotAnObject})
			continue
		}

		summary.add(a.Apply(ctx, MetaRecordFromItem(m)))
	}

	a.logger.Info("User meta batch applied",
		slog.Int("items", summary.Items),
		slog.Int("updated", summary.Counts[StatusUpdated]),
		slog.Int("not_found", summary.Counts[StatusNotFound]),
		slog.Int("nothing_to_update", summary.Counts[StatusNothingToUpdate]),
		slog.Int("keys_retried", summary.Retried),
	)

	return summary, nil
}

// Handle is the hook entry point for HookUserMeta.
func (a *MetaApplier) Handle(ctx context.Context, data []byte) (map[string]any, error) {
	summary, err := a.ApplyPayload(ctx, data)
	if summary == nil {
		return nil, err
	}
	return summary.Result(), err
}
