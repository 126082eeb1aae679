package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory 进程内通道，用于测试和单进程运行
type Memory struct {
	mu     sync.Mutex
	flags  map[Key]string
	lists  map[Key]*FlowSet
	edited EditedRequests
	held   map[string][]HeldFlow
	err    error
}

// NewMemory 创建进程内通道
func NewMemory() *Memory {
	return &Memory{
		flags:  map[Key]string{},
		lists:  map[Key]*FlowSet{},
		edited: EditedRequests{},
		held:   map[string][]HeldFlow{},
	}
}

func (m *Memory) fail() error {
	if m.err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, m.err)
	}
	return nil
}

// SetFail 设置后每个操作都返回 ErrUnavailable，传 nil 恢复
func (m *Memory) SetFail(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// SetFlag 覆盖写入
func (m *Memory) SetFlag(_ context.Context, key Key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	m.flags[key] = value
	return nil
}

// ReadFlag 读取开关
func (m *Memory) ReadFlag(_ context.Context, key Key, def string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return def, err
	}
	if v, ok := m.flags[key]; ok {
		return v, nil
	}
	return def, nil
}

// EnqueueFlowCommand 追加流 ID
func (m *Memory) EnqueueFlowCommand(_ context.Context, list Key, flowID string) error {
	if !isListKey(list) {
		return fmt.Errorf("%w: %s", ErrNotList, list)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	set, ok := m.lists[list]
	if !ok {
		set = NewFlowSet()
		m.lists[list] = set
	}
	set.Add(flowID)
	return nil
}

// DrainListKey 读取并清空
func (m *Memory) DrainListKey(_ context.Context, list Key) ([]string, error) {
	if !isListKey(list) {
		return nil, fmt.Errorf("%w: %s", ErrNotList, list)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return nil, err
	}
	set, ok := m.lists[list]
	if !ok {
		return nil, nil
	}
	delete(m.lists, list)
	return set.IDs(), nil
}

// PutEditedRequest 写入替换请求
func (m *Memory) PutEditedRequest(_ context.Context, flowID, raw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	m.edited[flowID] = raw
	return nil
}

// TakeEditedRequests 取出替换请求
func (m *Memory) TakeEditedRequests(_ context.Context, flowIDs []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return nil, err
	}
	out := map[string]string{}
	for _, id := range flowIDs {
		if raw, ok := m.edited[id]; ok {
			out[id] = raw
			delete(m.edited, id)
		}
	}
	return out, nil
}

// ReplaceHeld 整体重写镜像
func (m *Memory) ReplaceHeld(_ context.Context, project string, flows []HeldFlow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	cp := make([]HeldFlow, len(flows))
	copy(cp, flows)
	m.held[project] = cp
	return nil
}

// ListHeld 读取镜像
func (m *Memory) ListHeld(_ context.Context, project string) ([]HeldFlow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return nil, err
	}
	out := make([]HeldFlow, len(m.held[project]))
	copy(out, m.held[project])
	sort.SliceStable(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	return out, nil
}

var (
	_ Channel = (*Memory)(nil)
	_ Channel = (*Store)(nil)
)
