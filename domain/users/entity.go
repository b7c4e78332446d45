package users

import (
	"time"

	"github.com/uptrace/bun"
)

// User represents a row in crawl.users. Tier and role come from the
// auth/profile service at signup and are kept in sync by it; the core
// only reads them.
type User struct {
	bun.BaseModel `bun:"table:crawl.users,alias:u"`

	ID        string    `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	Email     string    `bun:"email,notnull" json:"email"`
	Role      string    `bun:"role,notnull,default:'user'" json:"role"`
	Tier      string    `bun:"tier,notnull,default:'free'" json:"tier"`
	CreatedAt time.Time `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// Tier name constants
const (
	TierFree       = "free"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)
