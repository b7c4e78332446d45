package projects

import (
	"context"
	"log/slog"
	"strings"

	"github.com/crawlforge/crawlforge/domain/activity"
	"github.com/crawlforge/crawlforge/domain/quota"
	"github.com/crawlforge/crawlforge/domain/users"
	"github.com/crawlforge/crawlforge/internal/database"
	"github.com/crawlforge/crawlforge/pkg/apperror"
	"github.com/crawlforge/crawlforge/pkg/logger"
	"github.com/crawlforge/crawlforge/pkg/mathutil"
)

const (
	// DefaultLimit is the default number of projects to return
	DefaultLimit = 100
	// MaxLimit is the maximum number of projects to return
	MaxLimit = 500
	// MaxNameLength bounds the project name
	MaxNameLength = 200
)

// Service handles business logic for projects
type Service struct {
	repo     *Repository
	users    *users.Repository
	quota    *quota.Enforcer
	activity *activity.Recorder
	log      *slog.Logger
}

// NewService creates a new project service
func NewService(repo *Repository, users *users.Repository, enforcer *quota.Enforcer, recorder *activity.Recorder, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		users:    users,
		quota:    enforcer,
		activity: recorder,
		log:      log.With(logger.Scope("projects.svc")),
	}
}

// List returns projects the user is a member of
func (s *Service) List(ctx context.Context, userID string, limit int) ([]Project, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = mathutil.ClampInt(limit, 1, MaxLimit)

	return s.repo.List(ctx, userID, limit)
}

// Get returns a project the user is a member of. A project that exists
// but is owned by someone else looks exactly like a missing one.
func (s *Service) Get(ctx context.Context, id, userID string) (*Project, error) {
	project, err := s.repo.GetForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, apperror.ErrProjectNotFound
	}
	return project, nil
}

// Create creates a project with the caller as owner
func (s *Service) Create(ctx context.Context, req CreateProjectRequest, userID, tier string) (*Project, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperror.NewBadRequest("project name is required")
	}
	if len(name) > MaxNameLength {
		return nil, apperror.NewBadRequest("project name is too long")
	}

	if err := s.quota.CheckCreateProject(ctx, userID, tier); err != nil {
		return nil, err
	}

	tx, err := database.BeginSafeTx(ctx, s.repo.db)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	defer tx.Rollback()

	project := &Project{
		OwnerID:     userID,
		Name:        name,
		Description: strings.TrimSpace(req.Description),
	}
	if err := s.repo.Create(ctx, tx.Tx, project); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		s.log.Error("failed to commit project create", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	s.log.Info("project created",
		slog.String("projectID", project.ID),
		slog.String("name", project.Name),
		slog.String("ownerID", userID))

	s.activity.Record(&activity.Entry{
		UserID:    userID,
		ProjectID: project.ID,
		Action:    activity.ActionProjectCreated,
		Detail:    map[string]any{"name": project.Name},
	})

	return project, nil
}

// Update changes a project's name or description. Only the owner may
// update.
func (s *Service) Update(ctx context.Context, id, userID string, req UpdateProjectRequest) (*Project, error) {
	project, err := s.requireOwner(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	changed := false
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, apperror.NewBadRequest("project name cannot be empty")
		}
		if len(name) > MaxNameLength {
			return nil, apperror.NewBadRequest("project name is too long")
		}
		if name != project.Name {
			project.Name = name
			changed = true
		}
	}
	if req.Description != nil {
		project.Description = strings.TrimSpace(*req.Description)
		changed = true
	}

	if !changed {
		return project, nil
	}

	if err := s.repo.Update(ctx, project); err != nil {
		return nil, err
	}

	return project, nil
}

// Delete removes a project and everything under it. Only the owner may
// delete.
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	if _, err := s.requireOwner(ctx, id, userID); err != nil {
		return err
	}

	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return apperror.ErrProjectNotFound
	}

	s.log.Info("project deleted",
		slog.String("projectID", id),
		slog.String("deletedBy", userID))

	s.activity.Record(&activity.Entry{
		UserID:    userID,
		ProjectID: id,
		Action:    activity.ActionProjectDeleted,
	})

	return nil
}

// ListMembers returns the members of a project the caller belongs to
func (s *Service) ListMembers(ctx context.Context, projectID, userID string) ([]Member, error) {
	if _, err := s.Get(ctx, projectID, userID); err != nil {
		return nil, err
	}
	return s.repo.ListMembers(ctx, projectID)
}

// AddMember adds a user to a project. Only the owner may invite, and
// the owner's tier bounds the member count.
func (s *Service) AddMember(ctx context.Context, projectID, callerID string, req AddMemberRequest) (*Member, error) {
	project, err := s.requireOwner(ctx, projectID, callerID)
	if err != nil {
		return nil, err
	}

	if req.UserID == "" {
		return nil, apperror.NewBadRequest("userId is required")
	}

	invited, err := s.users.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if invited == nil {
		return nil, apperror.ErrUserNotFound
	}

	owner, err := s.users.GetByID(ctx, project.OwnerID)
	if err != nil {
		return nil, err
	}
	ownerTier := users.TierFree
	if owner != nil {
		ownerTier = owner.Tier
	}

	if err := s.quota.CheckAddMember(ctx, projectID, ownerTier); err != nil {
		return nil, err
	}

	member := &Member{
		ProjectID: projectID,
		UserID:    req.UserID,
		Role:      RoleMember,
	}
	added, err := s.repo.AddMember(ctx, member)
	if err != nil {
		return nil, err
	}
	if !added {
		return nil, apperror.ErrConflict.WithMessage("User is already a member of this project")
	}

	s.activity.Record(&activity.Entry{
		UserID:    callerID,
		ProjectID: projectID,
		Action:    activity.ActionMemberAdded,
		Detail:    map[string]any{"memberId": req.UserID},
	})

	return member, nil
}

// RemoveMember removes a non-owner member. Only the owner may remove.
func (s *Service) RemoveMember(ctx context.Context, projectID, callerID, memberID string) error {
	if _, err := s.requireOwner(ctx, projectID, callerID); err != nil {
		return err
	}

	removed, err := s.repo.RemoveMember(ctx, projectID, memberID)
	if err != nil {
		return err
	}
	if !removed {
		return apperror.ErrNotFound.WithMessage("Member not found")
	}

	s.activity.Record(&activity.Entry{
		UserID:    callerID,
		ProjectID: projectID,
		Action:    activity.ActionMemberRemoved,
		Detail:    map[string]any{"memberId": memberID},
	})

	return nil
}

// ListActivity returns the recent activity trail for a project
func (s *Service) ListActivity(ctx context.Context, projectID, userID string, limit int) ([]activity.Entry, error) {
	if _, err := s.Get(ctx, projectID, userID); err != nil {
		return nil, err
	}
	return s.activity.ListByProject(ctx, projectID, limit)
}

// requireOwner loads the project and verifies the caller owns it.
// Non-owners get not-found, never forbidden.
func (s *Service) requireOwner(ctx context.Context, projectID, userID string) (*Project, error) {
	project, err := s.repo.GetForUser(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if project == nil || project.OwnerID != userID {
		return nil, apperror.ErrProjectNotFound
	}
	return project, nil
}
