package traffic

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// ErrEmptyRequest 原始请求为空
var ErrEmptyRequest = errors.New("traffic: empty raw request")

// AssembleRequest 组装 HTTP/1.x 原始请求文本
func AssembleRequest(req *Request) string {
	var b strings.Builder
	target := req.URL
	if u, err := url.Parse(req.URL); err == nil && u.Host != "" {
		target = u.RequestURI()
	}
	proto := req.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	fmt.Fprintf(&b, "%s %s %s\r\n", req.Method, target, proto)
	if req.Headers.Get("host") == "" {
		if u, err := url.Parse(req.URL); err == nil && u.Host != "" {
			fmt.Fprintf(&b, "host: %s\r\n", u.Host)
		}
	}
	writeHeaders(&b, req.Headers)
	b.WriteString("\r\n")
	b.Write(req.Body)
	return b.String()
}

// AssembleResponse 组装 HTTP/1.x 原始响应文本
func AssembleResponse(resp *Response) string {
	var b strings.Builder
	proto := resp.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	status := resp.Status
	if status == "" {
		status = http.StatusText(resp.StatusCode)
	}
	fmt.Fprintf(&b, "%s %d %s\r\n", proto, resp.StatusCode, status)
	writeHeaders(&b, resp.Headers)
	b.WriteString("\r\n")
	b.Write(resp.Body)
	return b.String()
}

func writeHeaders(b *strings.Builder, h Header) {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s: %s\r\n", k, h[k])
	}
}

// ParseRawRequest 解析编辑后的原始请求
//
// 请求行可以是 origin-form（/path）或 absolute-form（https://host/path）。
// origin-form 时 scheme 和 host 取自 base；Host 头存在时优先使用。
// 裸 \n 换行会被规范为 \r\n；Content-Length 以实际请求体为准。
func ParseRawRequest(raw []byte, base *url.URL) (*Request, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyRequest
	}
	head, body := splitHead(raw)
	head, proto := downgradeProto(normalizeLineEndings(head))

	hr, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(append(head, '\r', '\n', '\r', '\n'))))
	if err != nil {
		return nil, fmt.Errorf("traffic: parse raw request: %w", err)
	}

	req := NewRequest()
	req.Method = hr.Method
	req.Proto = hr.Proto
	if proto != "" {
		req.Proto = proto
	}
	for k, vals := range hr.Header {
		if strings.EqualFold(k, "Content-Length") {
			continue
		}
		req.Headers.Set(k, strings.Join(vals, ", "))
	}
	if hr.Host != "" {
		req.Headers.Set("host", hr.Host)
	}

	target := *hr.URL
	if target.Host == "" {
		if base != nil {
			target.Scheme = base.Scheme
			target.Host = base.Host
		}
		if hr.Host != "" {
			target.Host = hr.Host
		}
		if target.Scheme == "" {
			target.Scheme = "http"
		}
	}
	req.URL = target.String()

	if len(body) > 0 {
		req.Body = body
		req.Headers.Set("content-length", strconv.Itoa(len(body)))
	}
	return req, nil
}

// splitHead 在第一个空行处切分头和体
func splitHead(raw []byte) (head, body []byte) {
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		return raw[:i], raw[i+4:]
	}
	if i := bytes.Index(raw, []byte("\n\n")); i >= 0 {
		return raw[:i], raw[i+2:]
	}
	return bytes.TrimRight(raw, "\r\n"), nil
}

// downgradeProto 把 HTTP/2、HTTP/3 请求行改写为 HTTP/1.1 以便解析，返回原协议
func downgradeProto(head []byte) ([]byte, string) {
	end := bytes.Index(head, []byte("\r\n"))
	if end < 0 {
		end = len(head)
	}
	line := head[:end]
	sp := bytes.LastIndexByte(line, ' ')
	if sp < 0 {
		return head, ""
	}
	proto := string(line[sp+1:])
	if !strings.HasPrefix(proto, "HTTP/2") && !strings.HasPrefix(proto, "HTTP/3") {
		return head, ""
	}
	out := make([]byte, 0, len(head))
	out = append(out, line[:sp+1]...)
	out = append(out, "HTTP/1.1"...)
	out = append(out, head[end:]...)
	return out, proto
}

func normalizeLineEndings(b []byte) []byte {
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(b, []byte("\n"), []byte("\r\n"))
}
