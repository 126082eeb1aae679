package control

import (
	"sync"

	"flowgate/internal/storage"
)

// Current 控制进程的当前项目，进程重启后重置
type Current struct {
	mu sync.RWMutex
	p  *storage.Project
}

// Get 当前项目的副本
func (c *Current) Get() (storage.Project, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.p == nil {
		return storage.Project{}, false
	}
	return *c.p, true
}

// Set 设置当前项目
func (c *Current) Set(p storage.Project) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.p = &p
}

// Clear 清除当前项目
func (c *Current) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.p = nil
}

// Is 当前项目是否为 id
func (c *Current) Is(id uint) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.p != nil && c.p.ID == id
}
