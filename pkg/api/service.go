package api

import (
	"context"

	"flowgate/internal/channel"
	"flowgate/internal/control"
	"flowgate/internal/logger"
	"flowgate/internal/storage"
	"flowgate/pkg/model"
)

// 调用方可据此区分的错误
var (
	ErrProjectNotFound = control.ErrProjectNotFound
	ErrRequestNotFound = control.ErrRequestNotFound
	ErrInvalidArgument = control.ErrInvalidArgument
	ErrConflict        = control.ErrConflict
	ErrUnavailable     = channel.ErrUnavailable
)

// Service 控制面服务接口
type Service interface {
	// Bootstrap 确保默认项目存在并设为当前项目
	Bootstrap(ctx context.Context) (*model.Project, error)

	// SetInterceptEnabled 开关拦截；关闭时同时放行全部挂起流
	SetInterceptEnabled(ctx context.Context, enabled bool) error

	// InterceptEnabled 拦截开关状态
	InterceptEnabled(ctx context.Context) (bool, error)

	// HeldFlows 当前项目的挂起流
	HeldFlows(ctx context.Context) (*model.HeldFlows, error)

	// ForwardFlow 放行一个挂起流，edited 非空时替换请求
	ForwardFlow(ctx context.Context, flowID string, edited *string) error

	// DropFlow 丢弃一个挂起流
	DropFlow(ctx context.Context, flowID string) error

	// ForwardAll 放行全部挂起流
	ForwardAll(ctx context.Context) error

	// CurrentProject 当前项目，未选择时返回 nil
	CurrentProject(ctx context.Context) (*model.Project, error)

	// SelectProject 切换当前项目，id 为 nil 时清除
	SelectProject(ctx context.Context, id *uint) (*model.Project, error)

	// ListProjects 列出项目
	ListProjects(ctx context.Context) ([]model.Project, error)

	// Project 获取项目
	Project(ctx context.Context, id uint) (*model.Project, error)

	// CreateProject 创建项目
	CreateProject(ctx context.Context, name, description string) (*model.Project, error)

	// DeleteProject 删除项目及其数据
	DeleteProject(ctx context.Context, id uint) error

	// Requests 项目的捕获记录，limit <= 0 不限制
	Requests(ctx context.Context, projectID uint, limit int) ([]model.CapturedRequest, error)

	// Request 单条捕获记录
	Request(ctx context.Context, projectID, requestID uint) (*model.CapturedRequest, error)
}

// Deps 服务依赖
type Deps = control.Deps

// NewService 创建并返回服务接口实现
func NewService(deps Deps, l logger.Logger) Service {
	return control.NewService(deps, l)
}

// NewDeps 基于主库和项目命名空间组装依赖
func NewDeps(ch channel.Channel, projects *storage.ProjectRepo, requests *storage.RequestRepo) Deps {
	return Deps{Channel: ch, Projects: projects, Requests: requests}
}
