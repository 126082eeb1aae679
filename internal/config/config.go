package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"flowgate/internal/scope"

	"gopkg.in/yaml.v3"
)

// 项目切换时对仍被挂起的流的处理策略
const (
	SwitchForward = "forward"
	SwitchDrop    = "drop"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	Sqlite struct {
		Dsn         string `yaml:"dsn"`
		Prefix      string `yaml:"prefix"`
		ProjectsDir string `yaml:"projectsDir"`
	} `yaml:"sqlite"`

	Log struct {
		Level      string   `yaml:"level"`
		Writer     []string `yaml:"writer"`
		File       string   `yaml:"file"`
		MaxSizeMB  int      `yaml:"maxSizeMB"`
		MaxBackups int      `yaml:"maxBackups"`
		MaxAgeDays int      `yaml:"maxAgeDays"`
	} `yaml:"log"`

	Control struct {
		Addr string `yaml:"addr"`
	} `yaml:"control"`

	Capture struct {
		DevToolsURL     string       `yaml:"devToolsURL"`
		Target          string       `yaml:"target"`
		PollIntervalMS  int          `yaml:"pollIntervalMS"`
		MetricsAddr     string       `yaml:"metricsAddr"`
		OnProjectSwitch string       `yaml:"onProjectSwitch"`
		Scope           scope.Config `yaml:"scope"`
	} `yaml:"capture"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.Sqlite.Dsn = "flowgate.db"
	c.Sqlite.ProjectsDir = "projects_data"
	c.Log.Level = "info"
	c.Log.Writer = []string{"console", "file"}
	c.Log.File = "logs/flowgate.log"
	c.Log.MaxSizeMB = 20
	c.Log.MaxBackups = 5
	c.Log.MaxAgeDays = 14
	c.Control.Addr = "127.0.0.1:5000"
	c.Capture.DevToolsURL = "http://127.0.0.1:9222"
	c.Capture.PollIntervalMS = 100
	c.Capture.OnProjectSwitch = SwitchForward
	return c
}

// Load 读取 yaml 配置文件并覆盖默认值；path 为空时返回默认配置
func Load(path string) (*Config, error) {
	c := NewConfig()
	if path == "" {
		return c, c.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Sqlite.Dsn) == "" {
		errs = append(errs, errors.New("sqlite.dsn is required"))
	}
	if strings.TrimSpace(c.Sqlite.ProjectsDir) == "" {
		errs = append(errs, errors.New("sqlite.projectsDir is required"))
	}
	if c.Capture.PollIntervalMS <= 0 {
		errs = append(errs, fmt.Errorf("capture.pollIntervalMS must be positive, got %d", c.Capture.PollIntervalMS))
	}
	switch c.Capture.OnProjectSwitch {
	case SwitchForward, SwitchDrop:
	default:
		errs = append(errs, fmt.Errorf("capture.onProjectSwitch must be %q or %q, got %q", SwitchForward, SwitchDrop, c.Capture.OnProjectSwitch))
	}
	if _, err := scope.New(c.Capture.Scope); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// PollInterval 轮询间隔
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Capture.PollIntervalMS) * time.Millisecond
}
