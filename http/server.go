// Package http 提供预测服务的HTTP服务器
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"flightdelay/config"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	config config.HTTPConfig
}

// NewServer 创建HTTP服务器
func NewServer(cfg config.HTTPConfig, handlers *Handlers) *Server {
	mux := http.NewServeMux()
	handlers.Register(mux, cfg.RequestTimeout)

	// 创建中间件链，超时按路由设置，websocket 不受影响
	chain := Chain(
		RecoveryMiddleware,                 // 1. 恢复中间件（最外层，捕获panic）
		RequestIDMiddleware,                // 2. 请求ID
		LoggerMiddleware,                   // 3. 访问日志
		SecurityHeadersMiddleware,          // 4. 安全头
		CORSMiddleware(cfg.AllowedOrigins), // 5. CORS
		RequestSizeMiddleware(cfg.MaxBodyBytes),
	)

	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           chain(mux),
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       120 * time.Second,
		},
		config: cfg,
	}
}

// Handler 返回带中间件的根处理器
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start 启动服务器，阻塞直到关闭
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve 在给定监听器上提供服务
func (s *Server) Serve(ln net.Listener) error {
	zap.L().Info("http server listening", zap.String("addr", ln.Addr().String()))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop 优雅停止服务器
func (s *Server) Stop(ctx context.Context) error {
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}

	zap.L().Info("shutting down http server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// Addr 返回服务器地址
func (s *Server) Addr() string {
	return s.server.Addr
}
