package projects

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/crawlforge/crawlforge/pkg/apperror"
	"github.com/crawlforge/crawlforge/pkg/logger"
)

// Repository handles database operations for projects and memberships
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new project repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("projects.repo")),
	}
}

// GetForUser returns a project only if the user is a member of it.
// Returns nil, nil when the project does not exist or the user has no
// access; the caller cannot distinguish the two cases.
func (r *Repository) GetForUser(ctx context.Context, id, userID string) (*Project, error) {
	var project Project

	err := r.db.NewSelect().
		Model(&project).
		Where("p.id = ?", id).
		Where("EXISTS (SELECT 1 FROM crawl.project_members pm WHERE pm.project_id = p.id AND pm.user_id = ?)", userID).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.log.Error("failed to get project", logger.Error(err), slog.String("id", id))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return &project, nil
}

// List returns projects the user is a member of, newest first
func (r *Repository) List(ctx context.Context, userID string, limit int) ([]Project, error) {
	projects := []Project{}

	err := r.db.NewSelect().
		Model(&projects).
		Join("JOIN crawl.project_members AS pm ON pm.project_id = p.id").
		Where("pm.user_id = ?", userID).
		Order("p.created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		r.log.Error("failed to list projects", logger.Error(err), slog.String("userID", userID))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return projects, nil
}

// Create inserts a project and its owner membership in one transaction
func (r *Repository) Create(ctx context.Context, tx bun.Tx, project *Project) error {
	if _, err := tx.NewInsert().
		Model(project).
		Returning("id, created_at, updated_at").
		Exec(ctx); err != nil {
		r.log.Error("failed to create project", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}

	member := &Member{
		ProjectID: project.ID,
		UserID:    project.OwnerID,
		Role:      RoleOwner,
	}
	if _, err := tx.NewInsert().Model(member).Exec(ctx); err != nil {
		r.log.Error("failed to create owner membership", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}

	return nil
}

// Update saves name and description changes
func (r *Repository) Update(ctx context.Context, project *Project) error {
	_, err := r.db.NewUpdate().
		Model(project).
		Column("name", "description").
		Set("updated_at = now()").
		WherePK().
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to update project", logger.Error(err), slog.String("id", project.ID))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// Delete removes a project. Memberships, jobs, chunks and images go
// with it via ON DELETE CASCADE. Returns false when nothing matched.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.NewDelete().
		Model((*Project)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to delete project", logger.Error(err), slog.String("id", id))
		return false, apperror.ErrDatabase.WithInternal(err)
	}

	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// AddMember inserts a membership. Returns false when the user already
// is a member.
func (r *Repository) AddMember(ctx context.Context, member *Member) (bool, error) {
	res, err := r.db.NewInsert().
		Model(member).
		On("CONFLICT (project_id, user_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to add member", logger.Error(err))
		return false, apperror.ErrDatabase.WithInternal(err)
	}

	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// RemoveMember deletes a membership. The owner row cannot be removed.
func (r *Repository) RemoveMember(ctx context.Context, projectID, userID string) (bool, error) {
	res, err := r.db.NewDelete().
		Model((*Member)(nil)).
		Where("project_id = ?", projectID).
		Where("user_id = ?", userID).
		Where("role <> ?", RoleOwner).
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to remove member", logger.Error(err))
		return false, apperror.ErrDatabase.WithInternal(err)
	}

	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// ListMembers returns all members of a project
func (r *Repository) ListMembers(ctx context.Context, projectID string) ([]Member, error) {
	members := []Member{}

	err := r.db.NewSelect().
		Model(&members).
		Where("project_id = ?", projectID).
		Order("added_at ASC").
		Scan(ctx)
	if err != nil {
		r.log.Error("failed to list members", logger.Error(err), slog.String("projectID", projectID))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return members, nil
}
