package channel

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// FlowSet 有序、去重的流 ID 集合
type FlowSet struct {
	ids  []string
	seen map[string]struct{}
}

// NewFlowSet 创建集合
func NewFlowSet(ids ...string) *FlowSet {
	s := &FlowSet{seen: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add 追加，已存在返回 false
func (s *FlowSet) Add(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	s.ids = append(s.ids, id)
	return true
}

// IDs 按插入顺序返回
func (s *FlowSet) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Len 元素个数
func (s *FlowSet) Len() int { return len(s.ids) }

// Encode 编码为 JSON 数组
func (s *FlowSet) Encode() string {
	raw := "[]"
	for _, id := range s.ids {
		raw, _ = sjson.Set(raw, "-1", id)
	}
	return raw
}

// DecodeFlowSet 解码 JSON 数组；格式错误时返回空集合和 ok=false
//
// 非字符串元素按其文本形式处理，空元素忽略。
func DecodeFlowSet(raw string) (set *FlowSet, ok bool) {
	set = NewFlowSet()
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return set, true
	}
	if !gjson.Valid(raw) {
		return set, false
	}
	res := gjson.Parse(raw)
	if !res.IsArray() {
		return set, false
	}
	res.ForEach(func(_, v gjson.Result) bool {
		switch v.Type {
		case gjson.String, gjson.Number:
			set.Add(v.String())
		}
		return true
	})
	return set, true
}

// EditedRequests 流 ID 到替换请求原文的映射
type EditedRequests map[string]string

// Encode 编码为 JSON 对象
func (e EditedRequests) Encode() string {
	raw := "{}"
	for id, body := range e {
		raw, _ = sjson.Set(raw, escapeKey(id), body)
	}
	return raw
}

// DecodeEditedRequests 解码 JSON 对象；格式错误时返回空映射和 ok=false
func DecodeEditedRequests(raw string) (EditedRequests, bool) {
	out := EditedRequests{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out, true
	}
	if !gjson.Valid(raw) {
		return out, false
	}
	res := gjson.Parse(raw)
	if !res.IsObject() {
		return out, false
	}
	res.ForEach(func(k, v gjson.Result) bool {
		if v.Type == gjson.String && k.String() != "" {
			out[k.String()] = v.String()
		}
		return true
	})
	return out, true
}

// escapeKey 转义 sjson 路径中的特殊字符，流 ID 可能包含 '.'
func escapeKey(k string) string {
	var b strings.Builder
	for _, r := range k {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', ':', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
