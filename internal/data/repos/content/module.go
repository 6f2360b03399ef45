package content

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/lessonweave-backend/internal/domain"
	"github.com/yungbote/lessonweave-backend/internal/platform/dbctx"
	"github.com/yungbote/lessonweave-backend/internal/platform/logger"
)

type ModuleRepo interface {
	Create(dbc dbctx.Context, modules []*types.Module) ([]*types.Module, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Module, error)
	ListByWorkspace(dbc dbctx.Context, workspaceID uuid.UUID) ([]*types.Module, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type moduleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewModuleRepo(db *gorm.DB, baseLog *logger.Logger) ModuleRepo {
	return &moduleRepo{db: db, log: baseLog.With("repo", "ModuleRepo")}
}

func (r *moduleRepo) Create(dbc dbctx.Context, modules []*types.Module) ([]*types.Module, error) {
	if len(modules) == 0 {
		return []*types.Module{}, nil
	}
	if err := dbc.DB(r.db).Create(&modules).Error; err != nil {
		return nil, err
	}
	return modules, nil
}

// GetByID returns nil without error when the module does not exist.
func (r *moduleRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Module, error) {
	var m types.Module
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&m).Error; err != nil {
		return nil, err
	}
	if m.ID == uuid.Nil {
		return nil, nil
	}
	return &m, nil
}

func (r *moduleRepo) ListByWorkspace(dbc dbctx.Context, workspaceID uuid.UUID) ([]*types.Module, error) {
	var out []*types.Module
	if err := dbc.DB(r.db).
		Where("workspace_id = ?", workspaceID).
		Order("created_at ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *moduleRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return dbc.DB(r.db).Model(&types.Module{}).Where("id = ?", id).Updates(updates).Error
}

func (r *moduleRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	return dbc.DB(r.db).Where("id = ?", id).Delete(&types.Module{}).Error
}
