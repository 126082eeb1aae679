package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// 首次启动自动创建的默认项目
const (
	DefaultProjectName        = "Default Project"
	DefaultProjectDescription = "Default project created automatically"
)

// ProjectRepo 项目仓库，创建/删除时同步维护命名空间
type ProjectRepo struct {
	db *gorm.DB
	ns *Namespaces
}

// NewProjectRepo 创建项目仓库
func NewProjectRepo(db *gorm.DB, ns *Namespaces) *ProjectRepo {
	return &ProjectRepo{db: db, ns: ns}
}

// List 按创建时间倒序列出项目
func (r *ProjectRepo) List(ctx context.Context) ([]Project, error) {
	var out []Project
	err := r.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&out).Error
	return out, err
}

// Get 按 ID 获取项目
func (r *ProjectRepo) Get(ctx context.Context, id uint) (*Project, error) {
	var p Project
	err := r.db.WithContext(ctx).Take(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByName 按名称获取项目
func (r *ProjectRepo) GetByName(ctx context.Context, name string) (*Project, error) {
	var p Project
	err := r.db.WithContext(ctx).Where("name = ?", name).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create 创建项目并初始化其命名空间
func (r *ProjectRepo) Create(ctx context.Context, name, description string) (*Project, error) {
	name = strings.TrimSpace(name)
	if SanitizeName(name) == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if clash, err := r.namespaceOwner(ctx, name); err != nil {
		return nil, err
	} else if clash != nil {
		return nil, fmt.Errorf("%w: %q shares a namespace with %q", ErrDuplicateName, name, clash.Name)
	}
	p := &Project{Name: name, Description: description}
	if err := RunTx(ctx, r.db, func(tx *gorm.DB) error {
		return tx.Create(p).Error
	}); err != nil {
		return nil, fmt.Errorf("storage: create project: %w", err)
	}
	if _, err := r.ns.DB(name); err != nil {
		return nil, err
	}
	return p, nil
}

// namespaceOwner 返回命名空间与 name 相同的已有项目，没有时返回 nil
func (r *ProjectRepo) namespaceOwner(ctx context.Context, name string) (*Project, error) {
	list, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	want := SanitizeName(name)
	for i := range list {
		if SanitizeName(list[i].Name) == want {
			return &list[i], nil
		}
	}
	return nil, nil
}

// Delete 删除项目及其命名空间
func (r *ProjectRepo) Delete(ctx context.Context, id uint) (*Project, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.ns.Drop(p.Name); err != nil {
		return nil, err
	}
	if err := RunTx(ctx, r.db, func(tx *gorm.DB) error {
		return tx.Delete(&Project{}, id).Error
	}); err != nil {
		return nil, fmt.Errorf("storage: delete project: %w", err)
	}
	return p, nil
}

// EnsureDefault 没有任何项目时创建默认项目，否则返回最新的项目
func (r *ProjectRepo) EnsureDefault(ctx context.Context) (*Project, error) {
	list, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) > 0 {
		return &list[0], nil
	}
	return r.Create(ctx, DefaultProjectName, DefaultProjectDescription)
}
