package gormstore

import (
	"errors"

	"gorm.io/gorm"

	"github.com/yungbote/persona-council/internal/platform/dbctx"
)

// casGuard runs compare-and-set writes keyed by a primary key column and a
// version column.
type casGuard struct {
	db *gorm.DB
}

func (g casGuard) baseDB(dbc dbctx.Context) (*gorm.DB, error) {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx), nil
	}
	if g.db != nil {
		return g.db.WithContext(dbc.Ctx), nil
	}
	return nil, errors.New("gormstore: missing db transaction context")
}

// updateByVersion reports whether a row matched pk and expectedVersion. The
// version column is bumped as part of the same statement.
func (g casGuard) updateByVersion(dbc dbctx.Context, model any, pkColumn string, pk any, expectedVersion int64, updates map[string]any) (bool, error) {
	db, err := g.baseDB(dbc)
	if err != nil {
		return false, err
	}
	if expectedVersion < 0 {
		return false, errors.New("gormstore: expectedVersion must be >= 0")
	}
	updates["version"] = expectedVersion + 1
	res := db.Model(model).
		Where(pkColumn+" = ? AND version = ?", pk, expectedVersion).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (g casGuard) deleteByVersion(dbc dbctx.Context, model any, pkColumn string, pk any, expectedVersion int64) (bool, error) {
	db, err := g.baseDB(dbc)
	if err != nil {
		return false, err
	}
	res := db.Where(pkColumn+" = ? AND version = ?", pk, expectedVersion).Delete(model)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
