package traffic

import (
	"context"
	"net/http"
	"strings"
)

// Header 封装通用的头部操作
type Header map[string]string

// Get 获取指定 Header 的值（大小写不敏感）
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(key)]
}

// Set 设置指定 Header 的值（自动转换为小写）
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Del 删除指定 Header
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// Request 中立的请求模型
type Request struct {
	ID      string // 流 ID，由拦截引擎分配
	URL     string // 完整URL
	Method  string // HTTP方法
	Proto   string // 协议版本，如 HTTP/1.1
	Headers Header // 请求头
	Body    []byte // 请求体原始数据
}

// Response 中立的响应模型
type Response struct {
	StatusCode int    // 状态码
	Status     string // 状态描述
	Proto      string
	Headers    Header // 响应头
	Body       []byte // 响应体数据
}

// NewRequest 创建初始化请求对象
func NewRequest() *Request {
	return &Request{
		Proto:   "HTTP/1.1",
		Headers: make(Header),
	}
}

// NewResponse 创建初始化响应对象
func NewResponse() *Response {
	return &Response{
		StatusCode: http.StatusOK,
		Proto:      "HTTP/1.1",
		Headers:    make(Header),
	}
}

// Flow 拦截引擎中的一次请求/响应交换
//
// 实现方负责把操作映射到具体引擎；协调器只依赖该接口。
type Flow interface {
	// ID 引擎分配的稳定标识
	ID() string
	// Request 请求快照
	Request() *Request
	// Hold 暂停该交换，直到 Resume / Kill
	Hold() error
	// Resume 原样放行
	Resume() error
	// ResumeWithReplacement 使用编辑后的原始请求放行
	ResumeWithReplacement(raw []byte) error
	// Kill 终止，不发往上游
	Kill() error
}

// EventHandler 拦截引擎回调
type EventHandler interface {
	// OnRequest 请求完整到达（头和体）
	OnRequest(ctx context.Context, f Flow)
	// OnResponse 响应到达
	OnResponse(ctx context.Context, flowID string, resp *Response)
	// OnError 交换失败
	OnError(ctx context.Context, flowID string, reason string)
}
