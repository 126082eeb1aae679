// Package control 实现控制进程：项目选择与向捕获进程下发命令。
//
// 命令只保证已持久化排队，何时被应用取决于捕获进程的下一轮对账。
package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"flowgate/internal/channel"
	"flowgate/internal/logger"
	"flowgate/internal/storage"
	"flowgate/pkg/model"
	"flowgate/pkg/traffic"
)

var (
	ErrProjectNotFound = errors.New("control: project not found")
	ErrRequestNotFound = errors.New("control: request not found")
	ErrInvalidArgument = errors.New("control: invalid argument")
	ErrConflict        = errors.New("control: conflict")
)

// Deps 服务依赖
type Deps struct {
	Channel  channel.Channel
	Projects *storage.ProjectRepo
	Requests *storage.RequestRepo
}

// Service 控制面服务
type Service struct {
	ch       channel.Channel
	projects *storage.ProjectRepo
	requests *storage.RequestRepo
	current  *Current
	log      logger.Logger

	// 串行化项目切换和删除，保证当前项目与 active_project 一致
	mu sync.Mutex
}

// NewService 创建控制面服务
func NewService(d Deps, l logger.Logger) *Service {
	if l == nil {
		l = logger.NewNop()
	}
	return &Service{
		ch:       d.Channel,
		projects: d.Projects,
		requests: d.Requests,
		current:  &Current{},
		log:      l,
	}
}

// storeErr 把存储层错误映射为调用方可识别的错误
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, channel.ErrUnavailable):
		return err
	case errors.Is(err, storage.ErrNotFound):
		return ErrProjectNotFound
	case errors.Is(err, storage.ErrInvalidName):
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	case errors.Is(err, storage.ErrDuplicateName):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return fmt.Errorf("%w: %v", channel.ErrUnavailable, err)
	}
}

// Bootstrap 确保默认项目存在并设为当前项目
func (s *Service) Bootstrap(ctx context.Context) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.projects.EnsureDefault(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	if cur, ok := s.current.Get(); ok {
		return toProject(&cur), nil
	}
	if err := s.ch.SetFlag(ctx, channel.ActiveProject, p.Name); err != nil {
		return nil, err
	}
	s.current.Set(*p)
	s.log.Info("设置当前项目", "id", p.ID, "name", p.Name)
	return toProject(p), nil
}

// SetInterceptEnabled 开关拦截；关闭时同时置位 forward_all
func (s *Service) SetInterceptEnabled(ctx context.Context, enabled bool) error {
	if err := channel.SetBool(ctx, s.ch, channel.InterceptEnabled, enabled); err != nil {
		return err
	}
	if !enabled {
		if err := channel.SetBool(ctx, s.ch, channel.ForwardAll, true); err != nil {
			return err
		}
	}
	s.log.Info("拦截开关", "enabled", enabled)
	return nil
}

// InterceptEnabled 拦截开关状态
func (s *Service) InterceptEnabled(ctx context.Context) (bool, error) {
	return channel.ReadBool(ctx, s.ch, channel.InterceptEnabled)
}

// HeldFlows 当前项目的挂起流镜像
func (s *Service) HeldFlows(ctx context.Context) (*model.HeldFlows, error) {
	out := &model.HeldFlows{FlowIDs: []string{}, Flows: []model.HeldFlow{}}
	cur, ok := s.current.Get()
	if !ok {
		return out, nil
	}
	out.Project = cur.Name
	held, err := s.ch.ListHeld(ctx, cur.Name)
	if err != nil {
		return nil, err
	}
	for _, h := range held {
		out.FlowIDs = append(out.FlowIDs, h.FlowID)
		out.Flows = append(out.Flows, model.HeldFlow{FlowID: h.FlowID, CapturedAt: h.CapturedAt})
	}
	return out, nil
}

// ForwardFlow 先写编辑后的请求再排队放行命令
func (s *Service) ForwardFlow(ctx context.Context, flowID string, edited *string) error {
	flowID = strings.TrimSpace(flowID)
	if flowID == "" {
		return fmt.Errorf("%w: empty flow id", ErrInvalidArgument)
	}
	if edited != nil && strings.TrimSpace(*edited) != "" {
		if _, err := traffic.ParseRawRequest([]byte(*edited), nil); err != nil {
			return fmt.Errorf("%w: edited_request: %v", ErrInvalidArgument, err)
		}
		if err := s.ch.PutEditedRequest(ctx, flowID, *edited); err != nil {
			return err
		}
	}
	if err := s.ch.EnqueueFlowCommand(ctx, channel.ForwardFlows, flowID); err != nil {
		return err
	}
	s.log.Info("放行命令已排队", "flowID", flowID, "edited", edited != nil)
	return nil
}

// DropFlow 排队丢弃命令
func (s *Service) DropFlow(ctx context.Context, flowID string) error {
	flowID = strings.TrimSpace(flowID)
	if flowID == "" {
		return fmt.Errorf("%w: empty flow id", ErrInvalidArgument)
	}
	if err := s.ch.EnqueueFlowCommand(ctx, channel.DropFlows, flowID); err != nil {
		return err
	}
	s.log.Info("丢弃命令已排队", "flowID", flowID)
	return nil
}

// ForwardAll 置位 forward_all
func (s *Service) ForwardAll(ctx context.Context) error {
	return channel.SetBool(ctx, s.ch, channel.ForwardAll, true)
}

// CurrentProject 当前项目；项目已被删除时清除选择
func (s *Service) CurrentProject(ctx context.Context) (*model.Project, error) {
	cur, ok := s.current.Get()
	if !ok {
		return nil, nil
	}
	p, err := s.projects.Get(ctx, cur.ID)
	if errors.Is(err, storage.ErrNotFound) {
		s.current.Clear()
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return toProject(p), nil
}

// SelectProject 切换当前项目并通知捕获进程；id 为 nil 时清除
func (s *Service) SelectProject(ctx context.Context, id *uint) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == nil {
		if err := s.ch.SetFlag(ctx, channel.ActiveProject, ""); err != nil {
			return nil, err
		}
		s.current.Clear()
		s.log.Info("清除当前项目")
		return nil, nil
	}
	p, err := s.projects.Get(ctx, *id)
	if err != nil {
		return nil, storeErr(err)
	}
	if err := s.ch.SetFlag(ctx, channel.ActiveProject, p.Name); err != nil {
		return nil, err
	}
	s.current.Set(*p)
	s.log.Info("设置当前项目", "id", p.ID, "name", p.Name)
	return toProject(p), nil
}

// ListProjects 列出项目
func (s *Service) ListProjects(ctx context.Context) ([]model.Project, error) {
	list, err := s.projects.List(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	out := make([]model.Project, 0, len(list))
	for i := range list {
		out = append(out, *toProject(&list[i]))
	}
	return out, nil
}

// Project 获取项目
func (s *Service) Project(ctx context.Context, id uint) (*model.Project, error) {
	p, err := s.projects.Get(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	return toProject(p), nil
}

// CreateProject 创建项目
func (s *Service) CreateProject(ctx context.Context, name, description string) (*model.Project, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	p, err := s.projects.Create(ctx, name, description)
	if err != nil {
		return nil, storeErr(err)
	}
	s.log.Info("创建项目", "id", p.ID, "name", p.Name)
	return toProject(p), nil
}

// DeleteProject 删除项目；删除的是当前项目时同时清除选择
func (s *Service) DeleteProject(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.projects.Get(ctx, id); err != nil {
		return storeErr(err)
	}
	if s.current.Is(id) {
		if err := s.ch.SetFlag(ctx, channel.ActiveProject, ""); err != nil {
			return err
		}
		s.current.Clear()
	}
	p, err := s.projects.Delete(ctx, id)
	if err != nil {
		return storeErr(err)
	}
	s.log.Info("删除项目", "id", p.ID, "name", p.Name)
	return nil
}

// Requests 项目的捕获记录
func (s *Service) Requests(ctx context.Context, projectID uint, limit int) ([]model.CapturedRequest, error) {
	p, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return nil, storeErr(err)
	}
	rows, err := s.requests.List(ctx, p.Name, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	out := make([]model.CapturedRequest, 0, len(rows))
	for i := range rows {
		out = append(out, *toRequest(&rows[i]))
	}
	return out, nil
}

// Request 单条捕获记录
func (s *Service) Request(ctx context.Context, projectID, requestID uint) (*model.CapturedRequest, error) {
	p, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return nil, storeErr(err)
	}
	row, err := s.requests.Get(ctx, p.Name, requestID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return toRequest(row), nil
}

func toProject(p *storage.Project) *model.Project {
	return &model.Project{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func toRequest(r *storage.CapturedRequest) *model.CapturedRequest {
	return &model.CapturedRequest{
		ID:          r.ID,
		Method:      r.Method,
		URL:         r.URL,
		RawRequest:  r.RawRequest,
		RawResponse: r.RawResponse,
		StatusCode:  r.StatusCode,
		DurationMS:  r.DurationMS,
		Timestamp:   r.Timestamp,
		CompletedAt: r.CompletedAt,
		FlowID:      r.FlowID,
	}
}
