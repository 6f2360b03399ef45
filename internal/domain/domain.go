package domain

import (
	"github.com/yungbote/lessonweave-backend/internal/domain/content"
)

type Module = content.Module
type ModuleNode = content.ModuleNode
type ClosureEdge = content.ClosureEdge

// Models lists every persisted type in migration order.
func Models() []any {
	return []any{
		&Module{},
		&ModuleNode{},
		&ClosureEdge{},
	}
}
