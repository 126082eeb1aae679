// Package capture 把拦截引擎的事件分发给协调器和记录器。
package capture

import (
	"context"

	"flowgate/internal/intercept"
	"flowgate/internal/logger"
	"flowgate/internal/recorder"
	"flowgate/pkg/traffic"
)

// Handler 引擎事件处理器
type Handler struct {
	coord *intercept.Coordinator
	rec   *recorder.Recorder
	log   logger.Logger
}

// New 创建事件处理器，被丢弃的流会通知记录器
func New(coord *intercept.Coordinator, rec *recorder.Recorder, l logger.Logger) *Handler {
	if l == nil {
		l = logger.NewNop()
	}
	coord.OnDrop(rec.Discard)
	return &Handler{coord: coord, rec: rec, log: l}
}

// OnRequest 先决定是否挂起，再以当时的项目记录请求
func (h *Handler) OnRequest(ctx context.Context, f traffic.Flow) {
	d := h.coord.OnRequest(ctx, f)
	h.log.Debug("请求到达", "flowID", f.ID(), "project", d.Project, "held", d.Held)
	_ = h.rec.OnRequest(ctx, d.Project, f.Request())
}

// OnResponse 响应到达
func (h *Handler) OnResponse(ctx context.Context, flowID string, resp *traffic.Response) {
	h.coord.Release(ctx, flowID)
	_ = h.rec.OnResponse(ctx, h.coord.ActiveProject(), flowID, resp)
}

// OnError 交换失败
func (h *Handler) OnError(ctx context.Context, flowID, reason string) {
	h.coord.Release(ctx, flowID)
	h.rec.OnError(ctx, flowID, reason)
}

var _ traffic.EventHandler = (*Handler)(nil)
