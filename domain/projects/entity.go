package projects

import (
	"time"

	"github.com/uptrace/bun"
)

// Member roles
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// Project represents a row in crawl.projects. The owner is the tenant
// boundary: every job belongs to a project and every access check walks
// through the membership table.
type Project struct {
	bun.BaseModel `bun:"table:crawl.projects,alias:p"`

	ID          string    `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	OwnerID     string    `bun:"owner_id,type:uuid,notnull" json:"ownerId"`
	Name        string    `bun:"name,notnull" json:"name"`
	Description string    `bun:"description,nullzero" json:"description,omitempty"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt   time.Time `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// Member represents a row in crawl.project_members
type Member struct {
	bun.BaseModel `bun:"table:crawl.project_members,alias:pm"`

	ProjectID string    `bun:"project_id,pk,type:uuid" json:"projectId"`
	UserID    string    `bun:"user_id,pk,type:uuid" json:"userId"`
	Role      string    `bun:"role,notnull,default:'member'" json:"role"`
	AddedAt   time.Time `bun:"added_at,notnull,default:now()" json:"addedAt"`
}

// CreateProjectRequest is the request body for creating a project
type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// UpdateProjectRequest is the request body for updating a project
type UpdateProjectRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// AddMemberRequest is the request body for adding a project member
type AddMemberRequest struct {
	UserID string `json:"userId"`
}
