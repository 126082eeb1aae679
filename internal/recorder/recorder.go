// Package recorder 把观察到的请求和响应写入项目存储，每条记录只完成一次。
package recorder

import (
	"context"
	"errors"
	"sync"
	"time"

	"flowgate/internal/logger"
	"flowgate/internal/storage"
	"flowgate/pkg/traffic"
)

// discardTTL 丢弃标记的保留时间；引擎对被终止的流不一定再发响应或错误事件
const discardTTL = 5 * time.Minute

type pendingRow struct {
	project string
	rowID   uint
	start   time.Time
}

// Recorder 请求记录器
type Recorder struct {
	repo *storage.RequestRepo
	log  logger.Logger
	now  func() time.Time

	mu        sync.Mutex
	pending   map[string]pendingRow
	discarded map[string]time.Time
}

// New 创建记录器
func New(repo *storage.RequestRepo, l logger.Logger) *Recorder {
	if l == nil {
		l = logger.NewNop()
	}
	return &Recorder{
		repo:      repo,
		log:       l,
		now:       func() time.Time { return time.Now().UTC() },
		pending:   make(map[string]pendingRow),
		discarded: make(map[string]time.Time),
	}
}

// OnRequest 写入一条未完成的记录；未选择项目时跳过
func (r *Recorder) OnRequest(ctx context.Context, project string, req *traffic.Request) error {
	if project == "" {
		r.log.Debug("未选择项目，跳过记录", "flowID", req.ID, "url", req.URL)
		return nil
	}
	start := r.now()
	row := &storage.CapturedRequest{
		Method:     req.Method,
		URL:        req.URL,
		RawRequest: traffic.AssembleRequest(req),
		Timestamp:  start,
		FlowID:     req.ID,
	}
	if err := r.repo.Insert(ctx, project, row); err != nil {
		r.log.Err(err, "写入请求记录失败", "project", project, "flowID", req.ID, "url", req.URL)
		return err
	}

	r.mu.Lock()
	_, dropped := r.discarded[req.ID]
	if !dropped {
		r.pending[req.ID] = pendingRow{project: project, rowID: row.ID, start: start}
	}
	r.mu.Unlock()
	if dropped {
		r.log.Debug("流在记录前已被丢弃，记录保持无响应", "project", project, "id", row.ID, "flowID", req.ID)
		return nil
	}

	r.log.Info("记录请求", "project", project, "id", row.ID, "method", req.Method, "url", req.URL)
	return nil
}

// OnResponse 写入响应字段；没有开始时间时耗时为空，项目取 fallbackProject
func (r *Recorder) OnResponse(ctx context.Context, fallbackProject, flowID string, resp *traffic.Response) error {
	r.mu.Lock()
	if _, ok := r.discarded[flowID]; ok {
		delete(r.discarded, flowID)
		r.mu.Unlock()
		r.log.Debug("流已被丢弃，忽略响应", "flowID", flowID)
		return nil
	}
	p, timed := r.pending[flowID]
	delete(r.pending, flowID)
	r.mu.Unlock()

	completed := r.now()
	raw := traffic.AssembleResponse(resp)
	status := resp.StatusCode
	upd := storage.ResponseUpdate{
		RawResponse: &raw,
		StatusCode:  &status,
		CompletedAt: completed,
	}

	var (
		row *storage.CapturedRequest
		err error
	)
	if timed {
		ms := completed.Sub(p.start).Milliseconds()
		upd.DurationMS = &ms
		row, err = r.repo.Complete(ctx, p.project, p.rowID, upd)
	} else {
		if fallbackProject == "" {
			r.log.Debug("未选择项目，跳过响应", "flowID", flowID)
			return nil
		}
		row, err = r.repo.CompleteByFlow(ctx, fallbackProject, flowID, upd)
	}

	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrAlreadyCompleted):
		r.log.Debug("没有可完成的请求记录", "flowID", flowID, "reason", err.Error())
		return nil
	case err != nil:
		r.log.Err(err, "写入响应失败", "flowID", flowID)
		return err
	}
	r.log.Info("记录响应", "id", row.ID, "status", status, "durationMS", row.DurationMS)
	return nil
}

// OnError 交换失败，记录保持无响应状态
func (r *Recorder) OnError(_ context.Context, flowID, reason string) {
	r.mu.Lock()
	p, ok := r.pending[flowID]
	delete(r.pending, flowID)
	delete(r.discarded, flowID)
	r.mu.Unlock()
	if ok {
		r.log.Warn("请求失败", "project", p.project, "id", p.rowID, "flowID", flowID, "reason", reason)
		return
	}
	r.log.Debug("请求失败", "flowID", flowID, "reason", reason)
}

// Discard 流被丢弃后，之后到达的响应不再更新记录；过期的丢弃标记顺带清理
func (r *Recorder) Discard(flowID string) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, at := range r.discarded {
		if now.Sub(at) > discardTTL {
			delete(r.discarded, id)
		}
	}
	delete(r.pending, flowID)
	r.discarded[flowID] = now
}

// Discarded 仍保留的丢弃标记数量
func (r *Recorder) Discarded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.discarded)
}

// Pending 尚未完成的流数量
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
