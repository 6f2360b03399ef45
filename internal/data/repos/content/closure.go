package content

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/lessonweave-backend/internal/domain"
	"github.com/yungbote/lessonweave-backend/internal/platform/dbctx"
	"github.com/yungbote/lessonweave-backend/internal/platform/logger"
)

type ClosureRepo interface {
	ListByModule(dbc dbctx.Context, moduleID uuid.UUID) ([]*types.ClosureEdge, error)
	ListSubtree(dbc dbctx.Context, moduleID, ancestorID uuid.UUID) ([]*types.ClosureEdge, error)
	Insert(dbc dbctx.Context, edges []*types.ClosureEdge) error
	DeletePairs(dbc dbctx.Context, moduleID uuid.UUID, edges []*types.ClosureEdge) error
	DeleteTouching(dbc dbctx.Context, moduleID uuid.UUID, nodeIDs []uuid.UUID) error
	DeleteByModule(dbc dbctx.Context, moduleID uuid.UUID) error
	ShiftSiblings(dbc dbctx.Context, moduleID, parentID uuid.UUID, from, delta int) error
	SetPosition(dbc dbctx.Context, moduleID, nodeID uuid.UUID, position int) error
}

type closureRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewClosureRepo(db *gorm.DB, baseLog *logger.Logger) ClosureRepo {
	return &closureRepo{db: db, log: baseLog.With("repo", "ClosureRepo")}
}

func (r *closureRepo) ListByModule(dbc dbctx.Context, moduleID uuid.UUID) ([]*types.ClosureEdge, error) {
	var out []*types.ClosureEdge
	if err := dbc.DB(r.db).
		Where("module_id = ?", moduleID).
		Order("depth ASC, position ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListSubtree returns every edge whose descendant lies under ancestorID,
// including the edges among those descendants.
func (r *closureRepo) ListSubtree(dbc dbctx.Context, moduleID, ancestorID uuid.UUID) ([]*types.ClosureEdge, error) {
	var out []*types.ClosureEdge
	sub := dbc.DB(r.db).Model(&types.ClosureEdge{}).Select("descendant").Where("ancestor = ?", ancestorID)
	if err := dbc.DB(r.db).
		Where("module_id = ? AND descendant IN (?)", moduleID, sub).
		Order("depth ASC, position ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *closureRepo) Insert(dbc dbctx.Context, edges []*types.ClosureEdge) error {
	if len(edges) == 0 {
		return nil
	}
	return dbc.DB(r.db).Create(&edges).Error
}

func (r *closureRepo) DeletePairs(dbc dbctx.Context, moduleID uuid.UUID, edges []*types.ClosureEdge) error {
	if len(edges) == 0 {
		return nil
	}
	pairs := make([][]interface{}, 0, len(edges))
	for _, e := range edges {
		pairs = append(pairs, []interface{}{e.Ancestor, e.Descendant})
	}
	return dbc.DB(r.db).
		Where("module_id = ? AND (ancestor, descendant) IN ?", moduleID, pairs).
		Delete(&types.ClosureEdge{}).Error
}

func (r *closureRepo) DeleteTouching(dbc dbctx.Context, moduleID uuid.UUID, nodeIDs []uuid.UUID) error {
	if len(nodeIDs) == 0 {
		return nil
	}
	return dbc.DB(r.db).
		Where("module_id = ? AND (ancestor IN ? OR descendant IN ?)", moduleID, nodeIDs, nodeIDs).
		Delete(&types.ClosureEdge{}).Error
}

func (r *closureRepo) DeleteByModule(dbc dbctx.Context, moduleID uuid.UUID) error {
	return dbc.DB(r.db).Where("module_id = ?", moduleID).Delete(&types.ClosureEdge{}).Error
}

// ShiftSiblings adds delta to the position of every child of parentID at or
// after from. Only that parent's children move; nodes elsewhere at the same
// depth are untouched.
func (r *closureRepo) ShiftSiblings(dbc dbctx.Context, moduleID, parentID uuid.UUID, from, delta int) error {
	if delta == 0 {
		return nil
	}
	children := dbc.DB(r.db).Model(&types.ClosureEdge{}).
		Select("descendant").
		Where("module_id = ? AND ancestor = ? AND depth = 1 AND position >= ?", moduleID, parentID, from)

	var ids []uuid.UUID
	if err := children.Pluck("descendant", &ids).Error; err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return dbc.DB(r.db).Model(&types.ClosureEdge{}).
		Where("module_id = ? AND descendant IN ?", moduleID, ids).
		Update("position", gorm.Expr("position + ?", delta)).Error
}

// SetPosition writes position onto every edge ending at nodeID.
func (r *closureRepo) SetPosition(dbc dbctx.Context, moduleID, nodeID uuid.UUID, position int) error {
	return dbc.DB(r.db).Model(&types.ClosureEdge{}).
		Where("module_id = ? AND descendant = ?", moduleID, nodeID).
		Update("position", position).Error
}
