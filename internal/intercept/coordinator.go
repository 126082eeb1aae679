// Package intercept 维护捕获进程内的挂起流，并把控制进程的命令落到具体的流上。
package intercept

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"flowgate/internal/channel"
	"flowgate/internal/config"
	"flowgate/internal/logger"
	"flowgate/internal/scope"
	"flowgate/pkg/traffic"
)

// Decision 对一个新请求的处理结果
type Decision struct {
	// Project 处理该请求时的活动项目，空表示未选择项目
	Project string
	// Held 是否已挂起
	Held bool
}

// Options 协调器选项
type Options struct {
	// SwitchPolicy 项目切换时如何处理旧项目的挂起流：config.SwitchForward 或 config.SwitchDrop
	SwitchPolicy string
	Scope        *scope.Matcher
	Metrics      *Metrics
	Logger       logger.Logger
	Now          func() time.Time
}

// Coordinator 挂起流协调器
//
// 请求回调和轮询都经过同一把锁；镜像总是在锁内整体重写。
type Coordinator struct {
	mu      sync.Mutex
	ch      channel.Channel
	reg     *Registry
	project string
	dirty   bool
	stale   map[string]struct{}
	pending []string
	// 未应用就结束的流，其编辑请求待清理
	orphans []string
	onDrop  []func(flowID string)

	policy  string
	scope   *scope.Matcher
	metrics *Metrics
	log     logger.Logger
	now     func() time.Time
}

// New 创建协调器
func New(ch channel.Channel, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.SwitchPolicy == "" {
		opts.SwitchPolicy = config.SwitchForward
	}
	return &Coordinator{
		ch:      ch,
		reg:     NewRegistry(),
		stale:   make(map[string]struct{}),
		policy:  opts.SwitchPolicy,
		scope:   opts.Scope,
		metrics: opts.Metrics,
		log:     opts.Logger,
		now:     opts.Now,
	}
}

// OnDrop 注册流被丢弃时的回调，在协调器锁内调用
func (c *Coordinator) OnDrop(fn func(flowID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDrop = append(c.onDrop, fn)
}

// ActiveProject 协调器缓存的活动项目
func (c *Coordinator) ActiveProject() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.project
}

// Held 当前挂起流，按捕获时间排序
func (c *Coordinator) Held() []channel.HeldFlow {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg.Snapshot()
}

// OnRequest 处理一个完整到达的请求
func (c *Coordinator) OnRequest(ctx context.Context, f traffic.Flow) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.syncProject(ctx); err != nil {
		c.log.Err(err, "读取活动项目失败，沿用缓存", "project", c.project)
	}

	enabled, err := channel.ReadBool(ctx, c.ch, channel.InterceptEnabled)
	if err != nil {
		c.log.Err(err, "读取拦截开关失败，本次放行", "flowID", f.ID())
	} else if !enabled && c.reg.Len() > 0 {
		c.releaseAll(ctx, "intercept disabled")
	}

	d := Decision{Project: c.project}
	req := f.Request()
	if !enabled || c.project == "" || !c.scope.Match(req) {
		c.metrics.inc(OutcomePassed)
		return d
	}

	if err := f.Hold(); err != nil {
		c.log.Err(err, "挂起请求失败，直接放行", flowFields(f.ID(), req)...)
		c.metrics.inc(OutcomePassed)
		return d
	}
	c.reg.Add(f, c.now())
	c.metrics.inc(OutcomeHeld)
	c.log.Info("挂起请求", flowFields(f.ID(), req)...)
	if err := c.flush(ctx); err != nil {
		c.log.Err(err, "写入挂起镜像失败，下一轮重试", "project", c.project)
	}
	d.Held = true
	return d
}

// Release 流自行结束（响应或出错）时从挂起表移除
func (c *Coordinator) Release(ctx context.Context, flowID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.reg.Remove(flowID)
	if !ok {
		return
	}
	c.metrics.inc(OutcomeReleased)
	c.log.Debug("挂起流自行结束", entryFields(flowID, e)...)
	if err := c.flush(ctx); err != nil {
		c.log.Err(err, "写入挂起镜像失败，下一轮重试", "project", c.project)
	}
}

// Tick 执行一轮对账：同步项目、关闭拦截时放行、应用命令、补写镜像
func (c *Coordinator) Tick(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if err := c.syncProject(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sync project: %w", err))
	}
	if c.reg.Len() > 0 {
		enabled, err := channel.ReadBool(ctx, c.ch, channel.InterceptEnabled)
		if err != nil {
			errs = append(errs, fmt.Errorf("read intercept flag: %w", err))
		} else if !enabled {
			c.releaseAll(ctx, "intercept disabled")
		}
	}
	if err := c.applyCommands(ctx); err != nil {
		errs = append(errs, err)
	}
	if c.dirty {
		if err := c.flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("rewrite mirror: %w", err))
		}
	}
	if err := c.flushStale(ctx); err != nil {
		errs = append(errs, fmt.Errorf("clear old mirror: %w", err))
	}
	if err := c.pruneEdits(ctx, nil); err != nil {
		errs = append(errs, fmt.Errorf("prune edited requests: %w", err))
	}
	return errors.Join(errs...)
}

// applyCommands 依次处理 forward_all、drop_flows、forward_flows
func (c *Coordinator) applyCommands(ctx context.Context) error {
	all, err := channel.ReadBool(ctx, c.ch, channel.ForwardAll)
	if err != nil {
		return fmt.Errorf("read forward_all: %w", err)
	}
	if all {
		c.releaseAll(ctx, "forward all")
		if err := channel.SetBool(ctx, c.ch, channel.ForwardAll, false); err != nil {
			return fmt.Errorf("reset forward_all: %w", err)
		}
		return nil
	}

	changed := false
	dropIDs, err := c.ch.DrainListKey(ctx, channel.DropFlows)
	if err != nil {
		return fmt.Errorf("drain drop_flows: %w", err)
	}
	for _, id := range dropIDs {
		e, ok := c.reg.Remove(id)
		if !ok {
			c.log.Debug("丢弃命令指向的流已结束，忽略", "flowID", id)
			continue
		}
		if c.kill(id, e) {
			c.metrics.inc(OutcomeDropped)
		}
		changed = true
	}
	if err := c.pruneEdits(ctx, dropIDs); err != nil {
		c.log.Err(err, "清理被丢弃流的编辑请求失败，下一轮重试")
	}

	if err := c.applyForwards(ctx, &changed); err != nil {
		if changed {
			_ = c.flush(ctx)
		}
		return err
	}
	if changed {
		if err := c.flush(ctx); err != nil {
			return fmt.Errorf("rewrite mirror: %w", err)
		}
	}
	return nil
}

// applyForwards 放行 forward_flows 中的流；取编辑请求失败时保留已取出的 ID 下一轮再试
func (c *Coordinator) applyForwards(ctx context.Context, changed *bool) error {
	drained, err := c.ch.DrainListKey(ctx, channel.ForwardFlows)
	if err != nil {
		return fmt.Errorf("drain forward_flows: %w", err)
	}
	ids := channel.NewFlowSet(c.pending...)
	for _, id := range drained {
		ids.Add(id)
	}
	c.pending = nil
	if ids.Len() == 0 {
		return nil
	}

	edits, err := c.ch.TakeEditedRequests(ctx, ids.IDs())
	if err != nil {
		c.pending = ids.IDs()
		return fmt.Errorf("take edited requests: %w", err)
	}
	for _, id := range ids.IDs() {
		e, ok := c.reg.Remove(id)
		if !ok {
			c.log.Debug("放行命令指向的流已结束，忽略", "flowID", id)
			continue
		}
		raw, edited := edits[id]
		if outcome := c.resume(id, e, raw, edited, "forward"); outcome != "" {
			c.metrics.inc(outcome)
		}
		*changed = true
	}
	return nil
}

// syncProject 活动项目变化时按策略处理旧项目的挂起流并清空两边的镜像
func (c *Coordinator) syncProject(ctx context.Context) error {
	next, err := c.ch.ReadFlag(ctx, channel.ActiveProject, "")
	if err != nil {
		return err
	}
	if next == c.project {
		return nil
	}
	old := c.project
	c.project = next
	c.log.Info("活动项目已切换", "from", old, "to", next, "held", c.reg.Len())

	var cleared []string
	for _, e := range c.reg.Clear() {
		id := e.Flow.ID()
		cleared = append(cleared, id)
		c.metrics.inc(OutcomeAbandoned)
		if c.policy == config.SwitchDrop {
			c.kill(id, e)
		} else {
			c.resume(id, e, "", false, "project switch")
		}
	}
	if err := c.pruneEdits(ctx, cleared); err != nil {
		c.log.Err(err, "清理编辑请求失败，下一轮重试")
	}
	if old != "" {
		c.stale[old] = struct{}{}
	}
	delete(c.stale, next)
	c.dirty = true

	var errs []error
	if err := c.flushStale(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.flush(ctx); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		c.log.Err(errors.Join(errs...), "切换项目后写入镜像失败，下一轮重试")
	}
	return nil
}

// Shutdown 进程退出前原样放行全部挂起流，避免浏览器中的请求一直悬挂
func (c *Coordinator) Shutdown(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.releaseAll(ctx, "shutdown")
	if err := c.flushStale(ctx); err != nil {
		c.log.Err(err, "清空旧项目镜像失败")
	}
	return n
}

// releaseAll 原样放行全部挂起流，每个流只放行一次
func (c *Coordinator) releaseAll(ctx context.Context, reason string) int {
	entries := c.reg.Clear()
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.Flow.ID())
		if outcome := c.resume(e.Flow.ID(), e, "", false, reason); outcome != "" {
			c.metrics.inc(outcome)
		}
	}
	if err := c.pruneEdits(ctx, ids); err != nil {
		c.log.Err(err, "清理编辑请求失败，下一轮重试")
	}
	if err := c.flush(ctx); err != nil {
		c.log.Err(err, "写入挂起镜像失败，下一轮重试", "project", c.project)
	}
	return len(entries)
}

// pruneEdits 删除未被应用的编辑请求；失败的 ID 留到下一轮
func (c *Coordinator) pruneEdits(ctx context.Context, ids []string) error {
	set := channel.NewFlowSet(c.orphans...)
	for _, id := range ids {
		set.Add(id)
	}
	c.orphans = nil
	if set.Len() == 0 {
		return nil
	}
	if _, err := c.ch.TakeEditedRequests(ctx, set.IDs()); err != nil {
		c.orphans = set.IDs()
		return err
	}
	return nil
}

// resume 放行并返回结局，失败返回空串；编辑后的请求无法应用时退回原样放行
func (c *Coordinator) resume(id string, e *Entry, raw string, edited bool, reason string) string {
	fields := append(entryFields(id, e), "reason", reason)
	if edited {
		err := e.Flow.ResumeWithReplacement([]byte(raw))
		if err == nil {
			c.log.Info("按编辑后的请求放行", fields...)
			return OutcomeEdited
		}
		c.log.Err(err, "应用编辑后的请求失败，原样放行", fields...)
	}
	if err := e.Flow.Resume(); err != nil {
		c.log.Err(err, "放行挂起流失败", fields...)
		return ""
	}
	c.log.Info("放行挂起流", fields...)
	return OutcomeForwarded
}

func (c *Coordinator) kill(id string, e *Entry) bool {
	for _, fn := range c.onDrop {
		fn(id)
	}
	if err := e.Flow.Kill(); err != nil {
		c.log.Err(err, "丢弃挂起流失败", entryFields(id, e)...)
		return false
	}
	c.log.Info("丢弃挂起流", entryFields(id, e)...)
	return true
}

// flush 整体重写当前项目的镜像，失败时标记待重写
func (c *Coordinator) flush(ctx context.Context) error {
	c.metrics.setHeld(c.reg.Len())
	if c.project == "" {
		c.dirty = false
		return nil
	}
	if err := c.ch.ReplaceHeld(ctx, c.project, c.reg.Snapshot()); err != nil {
		c.dirty = true
		return err
	}
	c.dirty = false
	return nil
}

// flushStale 清空之前项目遗留的镜像
func (c *Coordinator) flushStale(ctx context.Context) error {
	var errs []error
	for p := range c.stale {
		if err := c.ch.ReplaceHeld(ctx, p, nil); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		delete(c.stale, p)
	}
	return errors.Join(errs...)
}

func flowFields(id string, req *traffic.Request) []any {
	if req == nil {
		return []any{"flowID", id}
	}
	return []any{"flowID", id, "method", req.Method, "url", req.URL}
}

func entryFields(id string, e *Entry) []any {
	return []any{"flowID", id, "method", e.Method, "url", e.URL}
}
