package content

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Module is a named content tree owned by a workspace. Its root node shares
// the module's id.
type Module struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;not null;index" json:"workspace_id"`
	Name        string    `gorm:"column:name;not null" json:"name"`
	Description string    `gorm:"column:description;type:text" json:"description,omitempty"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (Module) TableName() string { return "module" }

type ModuleNode struct {
	ID       uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ModuleID uuid.UUID      `gorm:"type:uuid;not null;index" json:"module_id"`
	Title    string         `gorm:"column:title;not null" json:"title"`
	Content  string         `gorm:"column:content;type:text" json:"content"`
	Metadata datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (ModuleNode) TableName() string { return "module_node" }

// IsRoot reports whether n is its module's root.
func (n *ModuleNode) IsRoot() bool { return n != nil && n.ID == n.ModuleID }

// ClosureEdge is one (ancestor, descendant) row of a module's closure table.
// Depth is the path length; Position is the descendant's index among its
// siblings and is repeated on every edge ending at that descendant.
type ClosureEdge struct {
	ModuleID   uuid.UUID `gorm:"type:uuid;not null;index:idx_closure_module" json:"module_id"`
	Ancestor   uuid.UUID `gorm:"type:uuid;primaryKey;index:idx_closure_sibling,priority:1" json:"ancestor"`
	Descendant uuid.UUID `gorm:"type:uuid;primaryKey;index" json:"descendant"`
	Depth      int       `gorm:"column:depth;not null;index:idx_closure_sibling,priority:2" json:"depth"`
	Position   int       `gorm:"column:position;not null;default:0;index:idx_closure_sibling,priority:3" json:"position"`
}

func (ClosureEdge) TableName() string { return "module_closure" }
