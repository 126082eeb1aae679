// Package cdp 把 Chrome DevTools Protocol 的 Fetch 域适配为中立的流与事件。
package cdp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"flowgate/internal/logger"
	"flowgate/pkg/traffic"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/rpcc"
)

// ErrNoTarget 没有可附加的目标
var ErrNoTarget = errors.New("cdp: no matching target")

// Config 引擎配置
type Config struct {
	// DevToolsURL 浏览器调试地址，如 http://127.0.0.1:9222
	DevToolsURL string
	// Target 目标 ID 或 URL 片段，空表示第一个页面
	Target string
	// CommandTimeout 单个 CDP 命令超时
	CommandTimeout time.Duration
	Logger         logger.Logger
}

// Engine 附加到单个浏览器目标的拦截引擎
type Engine struct {
	cfg     Config
	handler traffic.EventHandler
	log     logger.Logger

	conn   *rpcc.Conn
	client *cdp.Client
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建引擎
func New(cfg Config, h traffic.EventHandler) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	return &Engine{cfg: cfg, handler: h, log: cfg.Logger}
}

// SelectTarget 按 ID 或 URL 片段选择目标；未指定时选择第一个页面
func SelectTarget(targets []*devtool.Target, want string) (*devtool.Target, error) {
	for _, t := range targets {
		if want == "" {
			if t.Type == devtool.Page {
				return t, nil
			}
			continue
		}
		if t.ID == want || strings.Contains(t.URL, want) {
			return t, nil
		}
	}
	return nil, ErrNoTarget
}

// Start 附加目标并开启 Fetch 的请求和响应阶段拦截
func (e *Engine) Start(ctx context.Context) error {
	dt := devtool.New(e.cfg.DevToolsURL)
	targets, err := dt.List(ctx)
	if err != nil {
		return fmt.Errorf("cdp: list targets: %w", err)
	}
	sel, err := SelectTarget(targets, e.cfg.Target)
	if err != nil {
		return err
	}
	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		return fmt.Errorf("cdp: dial %s: %w", sel.WebSocketDebuggerURL, err)
	}
	e.conn = conn
	e.client = cdp.NewClient(conn)

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	if err := e.client.Network.Enable(ctx, nil); err != nil {
		e.Close()
		return fmt.Errorf("cdp: enable network: %w", err)
	}
	paused, err := e.client.Fetch.RequestPaused(runCtx)
	if err != nil {
		e.Close()
		return fmt.Errorf("cdp: subscribe requestPaused: %w", err)
	}
	failed, err := e.client.Network.LoadingFailed(runCtx)
	if err != nil {
		paused.Close()
		e.Close()
		return fmt.Errorf("cdp: subscribe loadingFailed: %w", err)
	}

	p := "*"
	patterns := []fetch.RequestPattern{
		{URLPattern: &p, RequestStage: fetch.RequestStageRequest},
		{URLPattern: &p, RequestStage: fetch.RequestStageResponse},
	}
	if err := e.client.Fetch.Enable(ctx, &fetch.EnableArgs{Patterns: patterns}); err != nil {
		paused.Close()
		failed.Close()
		e.Close()
		return fmt.Errorf("cdp: enable fetch: %w", err)
	}

	e.wg.Add(2)
	go e.consumePaused(runCtx, paused)
	go e.consumeFailed(runCtx, failed)
	e.log.Info("已附加浏览器目标", "target", string(sel.ID), "url", sel.URL)
	return nil
}

// Close 停止拦截并断开连接
func (e *Engine) Close() error {
	if e.cancel != nil {
		e.cancel()
	}
	var err error
	if e.conn != nil {
		err = e.conn.Close()
	}
	e.wg.Wait()
	return err
}

func (e *Engine) consumePaused(ctx context.Context, rp fetch.RequestPausedClient) {
	defer e.wg.Done()
	defer rp.Close()
	for {
		ev, err := rp.Recv()
		if err != nil {
			if ctx.Err() == nil {
				e.log.Err(err, "接收 requestPaused 失败，停止拦截")
			}
			return
		}
		if IsResponseStage(ev) {
			e.handleResponse(ctx, ev)
		} else {
			e.handleRequest(ctx, ev)
		}
	}
}

func (e *Engine) consumeFailed(ctx context.Context, lf network.LoadingFailedClient) {
	defer e.wg.Done()
	defer lf.Close()
	for {
		ev, err := lf.Recv()
		if err != nil {
			return
		}
		e.handler.OnError(ctx, string(ev.RequestID), ev.ErrorText)
	}
}

// handleRequest 未被挂起的请求在回调返回后立即继续
func (e *Engine) handleRequest(ctx context.Context, ev *fetch.RequestPausedReply) {
	f := newFlow(e.client.Fetch, ev, e.cfg.CommandTimeout)
	e.handler.OnRequest(ctx, f)
	if f.Held() {
		return
	}
	if err := f.Resume(); err != nil && !errors.Is(err, ErrSettled) {
		e.log.Err(err, "继续请求失败", "flowID", f.ID(), "url", f.req.URL)
	}
}

func (e *Engine) handleResponse(ctx context.Context, ev *fetch.RequestPausedReply) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout)
	defer cancel()

	var body []byte
	reply, err := e.client.Fetch.GetResponseBody(cctx, &fetch.GetResponseBodyArgs{RequestID: ev.RequestID})
	if err != nil {
		e.log.Debug("读取响应体失败", "flowID", FlowID(ev), "error", err.Error())
	} else if body, err = DecodeBody(reply.Body, reply.Base64Encoded); err != nil {
		e.log.Debug("解码响应体失败", "flowID", FlowID(ev), "error", err.Error())
	}

	e.handler.OnResponse(ctx, FlowID(ev), ToResponse(ev, body))
	if err := e.client.Fetch.ContinueResponse(cctx, &fetch.ContinueResponseArgs{RequestID: ev.RequestID}); err != nil {
		e.log.Err(err, "继续响应失败", "flowID", FlowID(ev))
	}
}
