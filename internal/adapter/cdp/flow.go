package cdp

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"flowgate/pkg/traffic"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
)

// ErrSettled 流已经放行或终止
var ErrSettled = errors.New("cdp: flow already settled")

// fetchClient Fetch 域中流需要的操作
type fetchClient interface {
	ContinueRequest(ctx context.Context, args *fetch.ContinueRequestArgs) error
	FailRequest(ctx context.Context, args *fetch.FailRequestArgs) error
}

// Flow 一次请求阶段的暂停
//
// 浏览器在 Fetch.continueRequest / failRequest 之前一直等待，挂起即不做任何调用。
type Flow struct {
	client  fetchClient
	ev      *fetch.RequestPausedReply
	req     *traffic.Request
	timeout time.Duration

	mu      sync.Mutex
	held    bool
	settled bool
}

func newFlow(client fetchClient, ev *fetch.RequestPausedReply, timeout time.Duration) *Flow {
	return &Flow{client: client, ev: ev, req: ToRequest(ev), timeout: timeout}
}

// ID 流标识
func (f *Flow) ID() string { return f.req.ID }

// Request 请求快照
func (f *Flow) Request() *traffic.Request { return f.req }

// Hold 标记为挂起
func (f *Flow) Hold() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return ErrSettled
	}
	f.held = true
	return nil
}

// Held 是否被挂起
func (f *Flow) Held() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held
}

// Resume 原样放行
func (f *Flow) Resume() error {
	return f.settle(func(ctx context.Context) error {
		return f.client.ContinueRequest(ctx, &fetch.ContinueRequestArgs{RequestID: f.ev.RequestID})
	})
}

// ResumeWithReplacement 解析编辑后的原始请求并以其放行；解析失败时流保持挂起
func (f *Flow) ResumeWithReplacement(raw []byte) error {
	base, _ := url.Parse(f.req.URL)
	edited, err := traffic.ParseRawRequest(raw, base)
	if err != nil {
		return err
	}
	return f.settle(func(ctx context.Context) error {
		return f.client.ContinueRequest(ctx, ContinueArgs(f.ev.RequestID, edited))
	})
}

// Kill 终止请求
func (f *Flow) Kill() error {
	return f.settle(func(ctx context.Context) error {
		return f.client.FailRequest(ctx, &fetch.FailRequestArgs{
			RequestID:   f.ev.RequestID,
			ErrorReason: network.ErrorReasonAborted,
		})
	})
}

// settle 每个暂停只能继续或失败一次
func (f *Flow) settle(fn func(ctx context.Context) error) error {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return ErrSettled
	}
	f.settled = true
	f.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	return fn(ctx)
}

var _ traffic.Flow = (*Flow)(nil)
