package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StateRepo 全局 proxy_states 键值表
type StateRepo struct {
	db *gorm.DB
}

// NewStateRepo 创建状态仓库
func NewStateRepo(db *gorm.DB) *StateRepo {
	return &StateRepo{db: db}
}

// Get 读取键值，不存在时 found 为 false
func (r *StateRepo) Get(ctx context.Context, key string) (value string, found bool, err error) {
	return getState(r.db.WithContext(ctx), key)
}

// Set 覆盖写入键值
func (r *StateRepo) Set(ctx context.Context, key, value string) error {
	return RunTx(ctx, r.db, func(tx *gorm.DB) error {
		return putState(tx, key, value)
	})
}

// Update 在同一事务中读取并改写一个键；write 为 false 时不写回
func (r *StateRepo) Update(ctx context.Context, key string, fn func(cur string, found bool) (next string, write bool, err error)) error {
	return RunTx(ctx, r.db, func(tx *gorm.DB) error {
		cur, found, err := getState(tx, key)
		if err != nil {
			return err
		}
		next, write, err := fn(cur, found)
		if err != nil || !write {
			return err
		}
		return putState(tx, key, next)
	})
}

// All 读取全部键值
func (r *StateRepo) All(ctx context.Context) (map[string]string, error) {
	var rows []ProxyState
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Value
	}
	return out, nil
}

func getState(db *gorm.DB, key string) (string, bool, error) {
	var row ProxyState
	err := db.Where(clause.Eq{Column: clause.Column{Name: "key"}, Value: key}).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.Value, true, nil
}

func putState(db *gorm.DB, key, value string) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&ProxyState{Key: key, Value: value, UpdatedAt: time.Now().UTC()}).Error
}
