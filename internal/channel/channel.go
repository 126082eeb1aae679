// Package channel 实现控制进程与捕获进程之间的命令通道。
//
// 通道只依赖持久化的键值状态和每个项目的挂起流镜像，没有套接字也没有共享内存。
// 控制进程只追加命令、翻转开关；轮询器是唯一清空命令键、唯一写镜像的一方。
package channel

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Key 通道中的键
type Key string

// 通道键
const (
	ActiveProject     Key = "active_project"
	InterceptEnabled  Key = "intercept_enabled"
	ForwardAll        Key = "forward_all"
	ForwardFlows      Key = "forward_flows"
	DropFlows         Key = "drop_flows"
	EditedRequestsKey Key = "edited_requests"
)

// ErrUnavailable 存储暂不可用，调用方应在下一轮重试
var ErrUnavailable = errors.New("channel: store unavailable")

// ErrNotList 键不是命令列表
var ErrNotList = errors.New("channel: key is not a flow list")

// HeldFlow 镜像中的一条挂起流
type HeldFlow struct {
	FlowID     string    `json:"flow_id"`
	CapturedAt time.Time `json:"captured_at"`
}

// Commands 命令与开关
type Commands interface {
	// SetFlag 覆盖写入
	SetFlag(ctx context.Context, key Key, value string) error
	// ReadFlag 读取最后写入的值，不存在时返回 def
	ReadFlag(ctx context.Context, key Key, def string) (string, error)
	// EnqueueFlowCommand 追加流 ID，已存在时不重复
	EnqueueFlowCommand(ctx context.Context, list Key, flowID string) error
	// DrainListKey 读取并清空列表，仅允许唯一的消费者调用
	DrainListKey(ctx context.Context, list Key) ([]string, error)
	// PutEditedRequest 保存某个流的替换请求
	PutEditedRequest(ctx context.Context, flowID, raw string) error
	// TakeEditedRequests 取出并删除这些流的替换请求
	TakeEditedRequests(ctx context.Context, flowIDs []string) (map[string]string, error)
}

// Mirror 挂起流镜像
type Mirror interface {
	// ReplaceHeld 整体重写项目的镜像
	ReplaceHeld(ctx context.Context, project string, flows []HeldFlow) error
	// ListHeld 读取项目的镜像
	ListHeld(ctx context.Context, project string) ([]HeldFlow, error)
}

// Channel 命令通道
type Channel interface {
	Commands
	Mirror
}

// ReadBool 读取布尔开关，读取失败时返回 false 和错误
func ReadBool(ctx context.Context, c Commands, key Key) (bool, error) {
	v, err := c.ReadFlag(ctx, key, "false")
	if err != nil {
		return false, err
	}
	return ParseBool(v), nil
}

// SetBool 写入布尔开关
func SetBool(ctx context.Context, c Commands, key Key, v bool) error {
	return c.SetFlag(ctx, key, FormatBool(v))
}

// ParseBool 只有 "true"（不区分大小写）为真
func ParseBool(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "true")
}

// FormatBool 序列化布尔值
func FormatBool(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func isListKey(k Key) bool {
	return k == ForwardFlows || k == DropFlows
}
