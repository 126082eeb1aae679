package cdp

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"sort"
	"strings"

	"flowgate/pkg/traffic"

	"github.com/mafredri/cdp/protocol/fetch"
)

// FlowID 流标识：优先使用 Network 域的 requestId，请求和响应阶段以及 loadingFailed 都能对上
func FlowID(ev *fetch.RequestPausedReply) string {
	if ev.NetworkID != nil && string(*ev.NetworkID) != "" {
		return string(*ev.NetworkID)
	}
	return string(ev.RequestID)
}

// IsResponseStage 是否为响应阶段的暂停
func IsResponseStage(ev *fetch.RequestPausedReply) bool {
	return ev.ResponseStatusCode != nil
}

// ToRequest 将 CDP 请求暂停事件转换为中立 Request 模型
func ToRequest(ev *fetch.RequestPausedReply) *traffic.Request {
	req := traffic.NewRequest()
	req.ID = FlowID(ev)
	req.URL = ev.Request.URL
	req.Method = ev.Request.Method

	var headers map[string]string
	if len(ev.Request.Headers) > 0 {
		if err := json.Unmarshal(ev.Request.Headers, &headers); err == nil {
			for k, v := range headers {
				// HTTP/2 伪头不进入原始报文
				if strings.HasPrefix(k, ":") {
					continue
				}
				req.Headers.Set(k, v)
			}
		}
	}
	if req.Headers.Get("host") == "" {
		if u, err := url.Parse(req.URL); err == nil && u.Host != "" {
			req.Headers.Set("host", u.Host)
		}
	}
	if ev.Request.PostData != nil {
		req.Body = []byte(*ev.Request.PostData)
	}
	return req
}

// ToResponse 将 CDP 响应暂停事件转换为中立 Response 模型
func ToResponse(ev *fetch.RequestPausedReply, body []byte) *traffic.Response {
	res := traffic.NewResponse()
	if ev.ResponseStatusCode != nil {
		res.StatusCode = *ev.ResponseStatusCode
	}
	if ev.ResponseStatusText != nil {
		res.Status = *ev.ResponseStatusText
	}
	for _, h := range ev.ResponseHeaders {
		res.Headers.Set(h.Name, h.Value)
	}
	res.Body = body
	return res
}

// DecodeBody 解码 Fetch.getResponseBody 的返回
func DecodeBody(body string, base64Encoded bool) ([]byte, error) {
	if !base64Encoded {
		return []byte(body), nil
	}
	return base64.StdEncoding.DecodeString(body)
}

// 由浏览器自行计算的头
var managedHeaders = map[string]bool{
	"host":           true,
	"content-length": true,
}

// ToHeaderEntries 将中立 Header 转换为 CDP Header 条目，按名称排序
func ToHeaderEntries(h traffic.Header) []fetch.HeaderEntry {
	entries := make([]fetch.HeaderEntry, 0, len(h))
	for k, v := range h {
		if managedHeaders[k] {
			continue
		}
		entries = append(entries, fetch.HeaderEntry{Name: k, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// ContinueArgs 把编辑后的请求转换为 Fetch.continueRequest 参数
func ContinueArgs(id fetch.RequestID, req *traffic.Request) *fetch.ContinueRequestArgs {
	u, m := req.URL, req.Method
	args := &fetch.ContinueRequestArgs{
		RequestID: id,
		URL:       &u,
		Method:    &m,
		Headers:   ToHeaderEntries(req.Headers),
	}
	if len(req.Body) > 0 {
		args.PostData = req.Body
	}
	return args
}
