package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/cuongbtq/user-provisioner/internal/account"
	"github.com/cuongbtq/user-provisioner/internal/payload"
)

// CoreConfig configures a CoreApplier.
type CoreConfig struct {
	Roles        []string
	BaselineRole string
	// PasswordCost is the bcrypt cost; zero means bcrypt.DefaultCost.
	PasswordCost int
}

// CoreApplier creates accounts from user-creation items. It never updates an
// existing account.
type CoreApplier struct {
	store    account.Store
	roles    map[string]struct{}
	baseline string
	cost     int
	logger   *slog.Logger
	errLog   *slog.Logger
}

// NewCoreApplier creates a new CoreApplier. errLog receives one line per
// failed item.
func NewCoreApplier(store account.Store, cfg CoreConfig, logger, errLog *slog.Logger) *CoreApplier {
	roles := make(map[string]struct{}, len(cfg.Roles)+1)
	for _, r := range cfg.Roles {
		roles[r] = struct{}{}
	}
	baseline := cfg.BaselineRole
	if baseline == "" {
		baseline = "subscriber"
	}
	roles[baseline] = struct{}{}

	cost := cfg.PasswordCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	return &CoreApplier{
		store:    store,
		roles:    roles,
		baseline: baseline,
		cost:     cost,
		logger:   logger,
		errLog:   errLog,
	}
}

// Apply creates one account.
func (a *CoreApplier) Apply(ctx context.Context, rec UserRecord) Outcome {
	login := sanitizeLogin(rec.Login)
	email := sanitizeEmail(rec.Email)

	if login == "" || email == "" {
		return Outcome{Status: StatusSkipped, Reason: ReasonMissingFields}
	}
	if !validEmail(email) {
		a.errLog.Warn("invalid email",
			slog.String("login", login),
			slog.String("email", email),
		)
		return Outcome{Status: StatusSkipped, Reason: ReasonInvalidEmail}
	}

	role := rec.Role
	if _, ok := a.roles[role]; !ok {
		if role != "" {
			a.logger.Debug("Unknown role, using baseline",
				slog.String("login", login),
				slog.String("role", role),
				slog.String("baseline", a.baseline),
			)
		}
		role = a.baseline
	}

	exists, err := a.store.ExistsByEmail(ctx, email)
	if err != nil {
		return a.fail(login, email, err)
	}
	if exists {
		return Outcome{Status: StatusSkipped, Reason: ReasonEmailExists}
	}

	exists, err = a.store.ExistsByLogin(ctx, login)
	if err != nil {
		return a.fail(login, email, err)
	}
	if exists {
		return Outcome{Status: StatusSkipped, Reason: ReasonLoginExists}
	}

	password := rec.Password
	if password == "" {
		password = uuid.NewString()
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return a.fail(login, email, fmt.Errorf("failed to hash password: %w", err))
	}

	id, err := a.store.CreateUser(ctx, account.NewUser{
		Login:        login,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		FirstName:    rec.FirstName,
		LastName:     rec.LastName,
		DisplayName:  rec.DisplayName,
		Nickname:     rec.Nickname,
		URL:          rec.URL,
		Description:  rec.Description,
	})
	if err != nil {
		// Lost a race with a concurrent job creating the same account
		if errors.Is(err, account.ErrDuplicate) {
			return Outcome{Status: StatusSkipped, Reason: ReasonDuplicate}
		}
		return a.fail(login, email, err)
	}

	for _, key := range sortedKeys(rec.Meta) {
		value, ok, err := metaValue(rec.Meta[key])
		if err == nil && ok {
			err = a.store.SetMeta(ctx, id, key, value)
		}
		if err != nil {
			a.errLog.Error("set meta failed",
				slog.Int64("user_id", id),
				slog.String("login", login),
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}

	return Outcome{Status: StatusCreated, UserID: id}
}

func (a *CoreApplier) fail(login, email string, err error) Outcome {
	a.errLog.Error("create failed",
		slog.String("login", login),
		slog.String("email", email),
		slog.String("error", err.Error()),
	)
	return Outcome{Status: StatusFailed, Err: err}
}

// ApplyPayload normalizes a scheduled payload and applies its items in order.
// A malformed payload is an error; an unrecognized shape is an empty batch.
func (a *CoreApplier) ApplyPayload(ctx context.Context, data []byte) (*Summary, error) {
	decoded, err := payload.Decode(data)
	if err != nil {
		return nil, err
	}

	items, shape := payload.Classify(decoded, IsUserItem)
	summary := newSummary(string(shape))
	if shape == payload.ShapeUnknown {
		a.logger.Warn("Unrecognized user creation payload",
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

		summary.add(a.Apply(ctx, UserRecordFromItem(m)))
	}

	a.logger.Info("User creation batch applied",
		slog.Int("items", summary.Items),
		slog.Int("created", summary.Counts[StatusCreated]),
		slog.Int("skipped", summary.Counts[StatusSkipped]),
		slog.Int("failed", summary.Counts[StatusFailed]),
	)

	return summary, nil
}

// Handle is the hook entry point for HookUserCreation.
func (a *CoreApplier) Handle(ctx context.Context, data []byte) (map[string]any, error) {
	summary, err := a.ApplyPayload(ctx, data)
	if summary == nil {
		return nil, err
	}
	return summary.Result(), err
}
