package intercept

import (
	"sort"
	"time"

	"flowgate/internal/channel"
	"flowgate/pkg/traffic"
)

// Entry 一个被挂起的流
type Entry struct {
	Flow       traffic.Flow
	Method     string
	URL        string
	CapturedAt time.Time
}

// Registry 挂起流表，自身不加锁，只在协调器的锁内访问
type Registry struct {
	entries map[string]*Entry
}

// NewRegistry 创建挂起流表
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Add 登记挂起流，同一个 ID 重复登记时覆盖
func (r *Registry) Add(f traffic.Flow, now time.Time) *Entry {
	e := &Entry{Flow: f, CapturedAt: now}
	if req := f.Request(); req != nil {
		e.Method = req.Method
		e.URL = req.URL
	}
	r.entries[f.ID()] = e
	return e
}

// Get 获取挂起流
func (r *Registry) Get(id string) (*Entry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

// Remove 移除并返回挂起流
func (r *Registry) Remove(id string) (*Entry, bool) {
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	return e, ok
}

// Len 挂起数量
func (r *Registry) Len() int { return len(r.entries) }

// Clear 清空并按捕获顺序返回原有条目
func (r *Registry) Clear() []*Entry {
	out := r.sorted()
	r.entries = make(map[string]*Entry)
	return out
}

// IDs 按捕获时间排序的 ID
func (r *Registry) IDs() []string {
	entries := r.sorted()
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.Flow.ID()
	}
	return ids
}

// Snapshot 镜像内容
func (r *Registry) Snapshot() []channel.HeldFlow {
	entries := r.sorted()
	out := make([]channel.HeldFlow, len(entries))
	for i, e := range entries {
		out[i] = channel.HeldFlow{FlowID: e.Flow.ID(), CapturedAt: e.CapturedAt}
	}
	return out
}

func (r *Registry) sorted() []*Entry {
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CapturedAt.Equal(out[j].CapturedAt) {
			return out[i].Flow.ID() < out[j].Flow.ID()
		}
		return out[i].CapturedAt.Before(out[j].CapturedAt)
	})
	return out
}
