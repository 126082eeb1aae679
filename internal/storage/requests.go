package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ResponseUpdate 完成请求记录时写入的字段
type ResponseUpdate struct {
	RawResponse *string
	StatusCode  *int
	DurationMS  *int64
	CompletedAt time.Time
}

// RequestRepo 捕获请求仓库，按项目命名空间存取
type RequestRepo struct {
	ns *Namespaces
}

// NewRequestRepo 创建请求仓库
func NewRequestRepo(ns *Namespaces) *RequestRepo {
	return &RequestRepo{ns: ns}
}

// Insert 写入一条未完成的请求记录
func (r *RequestRepo) Insert(ctx context.Context, project string, req *CapturedRequest) error {
	db, err := r.ns.DB(project)
	if err != nil {
		return err
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}
	req.RawResponse, req.StatusCode, req.DurationMS, req.CompletedAt = nil, nil, nil, nil
	return RunTx(ctx, db, func(tx *gorm.DB) error {
		return tx.Create(req).Error
	})
}

// Complete 写入响应字段，每条记录只能完成一次
//
// completed_at 保证严格晚于 timestamp。
func (r *RequestRepo) Complete(ctx context.Context, project string, id uint, upd ResponseUpdate) (*CapturedRequest, error) {
	db, err := r.ns.DB(project)
	if err != nil {
		return nil, err
	}
	var out CapturedRequest
	err = RunTx(ctx, db, func(tx *gorm.DB) error {
		if err := tx.Take(&out, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if out.CompletedAt != nil {
			return ErrAlreadyCompleted
		}
		return completeRow(tx, &out, upd)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteByFlow 按流 ID 完成最近一条未完成的记录
func (r *RequestRepo) CompleteByFlow(ctx context.Context, project, flowID string, upd ResponseUpdate) (*CapturedRequest, error) {
	db, err := r.ns.DB(project)
	if err != nil {
		return nil, err
	}
	var out CapturedRequest
	err = RunTx(ctx, db, func(tx *gorm.DB) error {
		err := tx.Where("flow_id = ? AND completed_at IS NULL", flowID).Order("id DESC").Take(&out).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return completeRow(tx, &out, upd)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func completeRow(tx *gorm.DB, row *CapturedRequest, upd ResponseUpdate) error {
	completed := upd.CompletedAt
	if completed.IsZero() {
		completed = time.Now().UTC()
	}
	if !completed.After(row.Timestamp) {
		completed = row.Timestamp.Add(time.Microsecond)
	}
	res := tx.Model(&CapturedRequest{}).
		Where("id = ? AND completed_at IS NULL", row.ID).
		Updates(map[string]any{
			"raw_response": upd.RawResponse,
			"status_code":  upd.StatusCode,
			"duration_ms":  upd.DurationMS,
			"completed_at": completed,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyCompleted
	}
	row.RawResponse = upd.RawResponse
	row.StatusCode = upd.StatusCode
	row.DurationMS = upd.DurationMS
	row.CompletedAt = &completed
	return nil
}

// Get 获取单条记录
func (r *RequestRepo) Get(ctx context.Context, project string, id uint) (*CapturedRequest, error) {
	db, err := r.ns.DB(project)
	if err != nil {
		return nil, err
	}
	var out CapturedRequest
	err = db.WithContext(ctx).Take(&out, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// FindByFlow 按流 ID 查询记录，最新的在前
func (r *RequestRepo) FindByFlow(ctx context.Context, project, flowID string) ([]CapturedRequest, error) {
	db, err := r.ns.DB(project)
	if err != nil {
		return nil, err
	}
	var out []CapturedRequest
	err = db.WithContext(ctx).Where("flow_id = ?", flowID).Order("id DESC").Find(&out).Error
	return out, err
}

// List 按时间倒序列出记录，limit <= 0 表示不限制
func (r *RequestRepo) List(ctx context.Context, project string, limit int) ([]CapturedRequest, error) {
	db, err := r.ns.DB(project)
	if err != nil {
		return nil, err
	}
	q := db.WithContext(ctx).Order("timestamp DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []CapturedRequest
	err = q.Find(&out).Error
	return out, err
}
