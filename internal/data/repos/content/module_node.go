package content

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/lessonweave-backend/internal/domain"
	"github.com/yungbote/lessonweave-backend/internal/platform/dbctx"
	"github.com/yungbote/lessonweave-backend/internal/platform/logger"
)

type ModuleNodeRepo interface {
	Create(dbc dbctx.Context, nodes []*types.ModuleNode) ([]*types.ModuleNode, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ModuleNode, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.ModuleNode, error)
	ListByModule(dbc dbctx.Context, moduleID uuid.UUID) ([]*types.ModuleNode, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error)
	DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) error
	DeleteByModule(dbc dbctx.Context, moduleID uuid.UUID) error
}

type moduleNodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewModuleNodeRepo(db *gorm.DB, baseLog *logger.Logger) ModuleNodeRepo {
	return &moduleNodeRepo{db: db, log: baseLog.With("repo", "ModuleNodeRepo")}
}

func (r *moduleNodeRepo) Create(dbc dbctx.Context, nodes []*types.ModuleNode) ([]*types.ModuleNode, error) {
	if len(nodes) == 0 {
		return []*types.ModuleNode{}, nil
	}
	if err := dbc.DB(r.db).Create(&nodes).Error; err != nil {
		return nil, err
	}
	return nodes, nil
}

// GetByID returns nil without error when the node does not exist.
func (r *moduleNodeRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ModuleNode, error) {
	var n types.ModuleNode
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&n).Error; err != nil {
		return nil, err
	}
	if n.ID == uuid.Nil {
		return nil, nil
	}
	return &n, nil
}

func (r *moduleNodeRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.ModuleNode, error) {
	var out []*types.ModuleNode
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *moduleNodeRepo) ListByModule(dbc dbctx.Context, moduleID uuid.UUID) ([]*types.ModuleNode, error) {
	var out []*types.ModuleNode
	if err := dbc.DB(r.db).Where("module_id = ?", moduleID).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateFields reports whether a row matched.
func (r *moduleNodeRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error) {
	if len(updates) == 0 {
		return false, nil
	}
	res := dbc.DB(r.db).Model(&types.ModuleNode{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *moduleNodeRepo) DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return dbc.DB(r.db).Where("id IN ?", ids).Delete(&types.ModuleNode{}).Error
}

func (r *moduleNodeRepo) DeleteByModule(dbc dbctx.Context, moduleID uuid.UUID) error {
	return dbc.DB(r.db).Where("module_id = ?", moduleID).Delete(&types.ModuleNode{}).Error
}
