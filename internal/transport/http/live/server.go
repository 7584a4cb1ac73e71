package livehttp

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"tribune/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Server 对外暴露流水线触发、订单与组合查询接口。
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig 描述 HTTP 服务依赖。
type ServerConfig struct {
	Addr        string
	Deps        RouterDeps
	Metrics     http.Handler
	MetricsPath string
}

// NewServer 构建 HTTP server。
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Deps.Pipeline == nil && cfg.Deps.Orders == nil {
		return nil, errors.New("http server requires a pipeline or order manager")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestContext())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(cfg.Metrics))
	}
	NewRouter(cfg.Deps).Register(router.Group("/api"))

	return &Server{addr: cfg.Addr, router: router}, nil
}

// RequestIDHeader 调用方可自带请求号，否则服务端生成并回写。
const RequestIDHeader = "X-Request-Id"

// requestContext 把请求号挂到 request ctx 上，handler 内的日志都会带上它。
func requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		ctx := logger.WithTrace(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		log := logger.Ctx(ctx)
		attrs := []any{"method", c.Request.Method, "path", c.Request.URL.RequestURI(), "status", status, "ip", c.ClientIP(), "dur", time.Since(start)}
		if status >= http.StatusInternalServerError {
			log.Warn("http request failed", attrs...)
			return
		}
		log.Debug("http request", attrs...)
	}
}

// Handler 返回底层 http.Handler，测试用。
func (s *Server) Handler() http.Handler {
	if s == nil {
		return nil
	}
	return s.router
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
