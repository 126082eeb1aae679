package storage

import (
	"context"

	"gorm.io/gorm"
)

// HeldFlowRepo 挂起流镜像，只能整体重写
type HeldFlowRepo struct {
	ns *Namespaces
}

// NewHeldFlowRepo 创建镜像仓库
func NewHeldFlowRepo(ns *Namespaces) *HeldFlowRepo {
	return &HeldFlowRepo{ns: ns}
}

// Replace 在一个事务内清空并重新写入镜像
func (r *HeldFlowRepo) Replace(ctx context.Context, project string, flows []HeldFlow) error {
	db, err := r.ns.DB(project)
	if err != nil {
		return err
	}
	return RunTx(ctx, db, func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&HeldFlow{}).Error; err != nil {
			return err
		}
		if len(flows) == 0 {
			return nil
		}
		return tx.Create(&flows).Error
	})
}

// List 按捕获时间列出镜像
func (r *HeldFlowRepo) List(ctx context.Context, project string) ([]HeldFlow, error) {
	db, err := r.ns.DB(project)
	if err != nil {
		return nil, err
	}
	var out []HeldFlow
	err = db.WithContext(ctx).Order("captured_at ASC, flow_id ASC").Find(&out).Error
	return out, err
}
