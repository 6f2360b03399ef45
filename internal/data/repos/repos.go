package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/lessonweave-backend/internal/data/repos/content"
	"github.com/yungbote/lessonweave-backend/internal/platform/logger"
)

type ModuleRepo = content.ModuleRepo
type ModuleNodeRepo = content.ModuleNodeRepo
type ClosureRepo = content.ClosureRepo

// Repos is the set of repositories the services share.
type Repos struct {
	Modules ModuleRepo
	Nodes   ModuleNodeRepo
	Closure ClosureRepo
}

func New(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Modules: content.NewModuleRepo(db, log),
		Nodes:   content.NewModuleNodeRepo(db, log),
		Closure: content.NewClosureRepo(db, log),
	}
}
