// Package poller 按固定间隔驱动对账，直到上下文取消。
package poller

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"flowgate/internal/logger"

	"github.com/prometheus/client_golang/prometheus"
)

// Task 一次迭代
type Task func(ctx context.Context) error

// ErrPanic 迭代中被恢复的 panic
type ErrPanic struct {
	Value any
}

func (e *ErrPanic) Error() string {
	return fmt.Sprintf("poller: panic: %v", e.Value)
}

// Stats 运行统计
type Stats struct {
	Iterations uint64
	Errors     uint64
	Panics     uint64
}

// Poller 周期任务
type Poller struct {
	interval time.Duration
	task     Task
	log      logger.Logger

	iterations atomic.Uint64
	errors     atomic.Uint64
	panics     atomic.Uint64

	errCounter prometheus.Counter
}

// Option 选项
type Option func(*Poller)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(p *Poller) { p.log = l }
}

// WithRegisterer 注册 flowgate_poll_errors_total
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Poller) {
		p.errCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowgate_poll_errors_total",
			Help: "对账迭代失败次数（含 panic）",
		})
		reg.MustRegister(p.errCounter)
	}
}

// New 创建轮询器，interval <= 0 时使用 100ms
func New(interval time.Duration, task Task, opts ...Option) *Poller {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	p := &Poller{interval: interval, task: task, log: logger.NewNop()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run 阻塞运行直到 ctx 取消；单次迭代的失败不会结束循环
func (p *Poller) Run(ctx context.Context) {
	p.log.Info("轮询器启动", "interval", p.interval.String())
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("轮询器停止", "iterations", p.iterations.Load())
			return
		case <-ticker.C:
			p.once(ctx)
		}
	}
}

func (p *Poller) once(ctx context.Context) {
	p.iterations.Add(1)
	if err := p.safeRun(ctx); err != nil {
		p.errors.Add(1)
		if p.errCounter != nil {
			p.errCounter.Inc()
		}
		if _, ok := err.(*ErrPanic); ok {
			return
		}
		p.log.Err(err, "对账失败，下一轮重试")
	}
}

func (p *Poller) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.log.Error("对账 panic 已恢复", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = &ErrPanic{Value: r}
		}
	}()
	return p.task(ctx)
}

// Stats 返回统计快照
func (p *Poller) Stats() Stats {
	return Stats{
		Iterations: p.iterations.Load(),
		Errors:     p.errors.Load(),
		Panics:     p.panics.Load(),
	}
}
