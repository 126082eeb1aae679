package scope

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"flowgate/pkg/traffic"

	"github.com/tidwall/gjson"
)

// Condition 单个匹配条件
type Condition struct {
	Type    string   `yaml:"type" json:"type"`                           // url / method / header / query / cookie / text / json
	Mode    string   `yaml:"mode,omitempty" json:"mode,omitempty"`       // url: glob / prefix / exact / regex
	Pattern string   `yaml:"pattern,omitempty" json:"pattern,omitempty"` // url 匹配模式
	Values  []string `yaml:"values,omitempty" json:"values,omitempty"`   // method 候选值
	Key     string   `yaml:"key,omitempty" json:"key,omitempty"`         // header / query / cookie 名
	Path    string   `yaml:"path,omitempty" json:"path,omitempty"`       // json: gjson 路径
	Op      string   `yaml:"op,omitempty" json:"op,omitempty"`           // equals / contains / regex，空表示存在即可
	Value   string   `yaml:"value,omitempty" json:"value,omitempty"`
}

// Config 拦截范围配置，全部为空时匹配所有请求
type Config struct {
	AllOf  []Condition `yaml:"allOf,omitempty" json:"allOf,omitempty"`
	AnyOf  []Condition `yaml:"anyOf,omitempty" json:"anyOf,omitempty"`
	NoneOf []Condition `yaml:"noneOf,omitempty" json:"noneOf,omitempty"`
}

// Empty 是否未配置任何条件
func (c Config) Empty() bool {
	return len(c.AllOf) == 0 && len(c.AnyOf) == 0 && len(c.NoneOf) == 0
}

// Matcher 判断请求是否处于拦截范围内
type Matcher struct {
	cfg     Config
	regexps map[string]*regexp.Regexp
}

// New 创建匹配器，所有正则在此预编译
func New(cfg Config) (*Matcher, error) {
	m := &Matcher{cfg: cfg, regexps: make(map[string]*regexp.Regexp)}
	for _, group := range [][]Condition{cfg.AllOf, cfg.AnyOf, cfg.NoneOf} {
		for _, c := range group {
			if err := m.compile(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// MatchAll 返回匹配所有请求的匹配器
func MatchAll() *Matcher {
	return &Matcher{regexps: map[string]*regexp.Regexp{}}
}

func (m *Matcher) compile(c Condition) error {
	switch c.Type {
	case "url", "method", "header", "query", "cookie", "text", "json":
	default:
		return fmt.Errorf("scope: unknown condition type %q", c.Type)
	}
	if c.Type == "json" && c.Path == "" {
		return fmt.Errorf("scope: json condition requires path")
	}
	var pattern string
	switch {
	case c.Type == "url" && c.Mode == "regex":
		pattern = c.Pattern
	case c.Op == "regex":
		pattern = c.Value
	default:
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("scope: compile %q: %w", pattern, err)
	}
	m.regexps[pattern] = re
	return nil
}

// Match 判断请求是否满足配置
func (m *Matcher) Match(req *traffic.Request) bool {
	if m == nil || m.cfg.Empty() {
		return true
	}
	if req == nil {
		return false
	}
	ctx := newEvalContext(req)
	ok := true
	if len(m.cfg.AllOf) > 0 {
		ok = ok && m.allOf(ctx, m.cfg.AllOf)
	}
	if len(m.cfg.AnyOf) > 0 {
		ok = ok && m.anyOf(ctx, m.cfg.AnyOf)
	}
	if len(m.cfg.NoneOf) > 0 {
		ok = ok && !m.anyOf(ctx, m.cfg.NoneOf)
	}
	return ok
}

type evalContext struct {
	url     string
	method  string
	headers traffic.Header
	query   map[string]string
	cookies map[string]string
	body    string
}

func newEvalContext(req *traffic.Request) evalContext {
	ctx := evalContext{
		url:     req.URL,
		method:  req.Method,
		headers: req.Headers,
		query:   map[string]string{},
		cookies: map[string]string{},
		body:    string(req.Body),
	}
	if u, err := url.Parse(req.URL); err == nil {
		for k, vals := range u.Query() {
			if len(vals) > 0 {
				ctx.query[strings.ToLower(k)] = vals[0]
			}
		}
	}
	for _, pair := range strings.Split(req.Headers.Get("cookie"), ";") {
		if kv := strings.SplitN(strings.TrimSpace(pair), "=", 2); len(kv) == 2 {
			ctx.cookies[strings.ToLower(kv[0])] = kv[1]
		}
	}
	return ctx
}

func (m *Matcher) allOf(ctx evalContext, cs []Condition) bool {
	for i := range cs {
		if !m.cond(ctx, cs[i]) {
			return false
		}
	}
	return true
}

func (m *Matcher) anyOf(ctx evalContext, cs []Condition) bool {
	for i := range cs {
		if m.cond(ctx, cs[i]) {
			return true
		}
	}
	return false
}

func (m *Matcher) cond(ctx evalContext, c Condition) bool {
	switch c.Type {
	case "url":
		switch c.Mode {
		case "prefix":
			return strings.HasPrefix(ctx.url, c.Pattern)
		case "regex":
			return m.matchRegex(ctx.url, c.Pattern)
		case "exact":
			return ctx.url == c.Pattern
		default:
			return glob(ctx.url, c.Pattern)
		}
	case "method":
		for _, v := range c.Values {
			if strings.EqualFold(ctx.method, v) {
				return true
			}
		}
		return false
	case "header":
		if ctx.headers == nil {
			return false
		}
		v, ok := ctx.headers[strings.ToLower(c.Key)]
		return ok && m.compare(v, c)
	case "query":
		v, ok := ctx.query[strings.ToLower(c.Key)]
		return ok && m.compare(v, c)
	case "cookie":
		v, ok := ctx.cookies[strings.ToLower(c.Key)]
		return ok && m.compare(v, c)
	case "text":
		return ctx.body != "" && m.compare(ctx.body, c)
	case "json":
		if ctx.body == "" || !gjson.Valid(ctx.body) {
			return false
		}
		res := gjson.Get(ctx.body, c.Path)
		return res.Exists() && m.compare(res.String(), c)
	default:
		return false
	}
}

func (m *Matcher) compare(v string, c Condition) bool {
	switch c.Op {
	case "equals":
		return v == c.Value
	case "contains":
		return strings.Contains(v, c.Value)
	case "regex":
		return m.matchRegex(v, c.Value)
	default:
		return true
	}
}

func (m *Matcher) matchRegex(s, pattern string) bool {
	re, ok := m.regexps[pattern]
	if !ok {
		return false
	}
	return re.MatchString(s)
}

func glob(s, pattern string) bool {
	if pattern == "*" || pattern == "" {
		return true
	}
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1 {
		return strings.Contains(s, strings.Trim(pattern, "*"))
	}
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(s, strings.TrimPrefix(pattern, "*")) {
		return true
	}
	if strings.HasSuffix(pattern, "*") && strings.HasPrefix(s, strings.TrimSuffix(pattern, "*")) {
		return true
	}
	return s == pattern
}
