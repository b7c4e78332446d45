package users

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/crawlforge/crawlforge/pkg/apperror"
	"github.com/crawlforge/crawlforge/pkg/logger"
)

// Repository handles database operations for users
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new user repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("users.repo")),
	}
}

// GetByID returns a user by ID. Returns nil, nil when not found.
func (r *Repository) GetByID(ctx context.Context, id string) (*User, error) {
	var user User

	err := r.db.NewSelect().
		Model(&user).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.log.Error("failed to get user", logger.Error(err), slog.String("id", id))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return &user, nil
}

// Create inserts a new user
func (r *Repository) Create(ctx context.Context, user *User) error {
	_, err := r.db.NewInsert().
		Model(user).
		Returning("id, created_at, updated_at").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to create user", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// ResolveProfile implements auth.ProfileResolver. Unknown users default
// to the free tier rather than failing the request: the auth service is
// the source of truth for identity, this table is only a mirror.
func (r *Repository) ResolveProfile(ctx context.Context, userID string) (string, string, error) {
	user, err := r.GetByID(ctx, userID)
	if err != nil {
		return "", "", err
	}
	if user == nil {
		return "user", TierFree, nil
	}
	return user.Role, user.Tier, nil
}
