// Package httpapi 控制进程的 HTTP 接口。
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"flowgate/internal/ctxkeys"
	"flowgate/internal/logger"
	"flowgate/pkg/api"
	"flowgate/pkg/model"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Server 控制 API
type Server struct {
	svc    api.Service
	log    logger.Logger
	router *chi.Mux
}

// New 创建路由
func New(svc api.Service, l logger.Logger) *Server {
	if l == nil {
		l = logger.NewNop()
	}
	s := &Server{svc: svc, log: l}
	r := chi.NewRouter()
	r.Use(s.traceID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/api/proxy", func(r chi.Router) {
		r.Get("/intercept", s.handleGetIntercept)
		r.Post("/intercept", s.handleSetIntercept)
		r.Get("/intercepted", s.handleHeld)
		r.Post("/intercepted/forward-all", s.handleForwardAll)
		r.Post("/intercepted/{flowID}/forward", s.handleForward)
		r.Post("/intercepted/{flowID}/drop", s.handleDrop)
	})
	r.Route("/api/projects", func(r chi.Router) {
		r.Get("/", s.handleListProjects)
		r.Post("/", s.handleCreateProject)
		r.Get("/current", s.handleGetCurrent)
		r.Post("/current", s.handleSetCurrent)
		r.Get("/{id}", s.handleGetProject)
		r.Delete("/{id}", s.handleDeleteProject)
		r.Get("/{id}/requests", s.handleRequests)
		r.Get("/{id}/requests/{requestID}", s.handleRequest)
	})
	s.router = r
	return s
}

// ServeHTTP 实现 http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe 监听直到 ctx 取消，随后优雅关闭
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("控制 API 监听", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// traceID 为每个请求生成追踪 ID，gorm 日志会带上它
func (s *Server) traceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Trace-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Trace-Id", id)
		ctx := context.WithValue(r.Context(), ctxkeys.TraceIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("HTTP 请求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
			"traceID", r.Context().Value(ctxkeys.TraceIDKey{}),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError 按错误类型映射状态码
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, api.ErrProjectNotFound), errors.Is(err, api.ErrRequestNotFound):
		status = http.StatusNotFound
	case errors.Is(err, api.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, api.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, api.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		s.log.Err(err, "请求处理失败", "path", r.URL.Path, "traceID", r.Context().Value(ctxkeys.TraceIDKey{}))
	}
	writeJSON(w, status, model.Error{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, model.Error{Error: msg})
}

// decodeBody 解析 JSON 请求体；空请求体视为零值
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
