package worker

import (
	"context"
	"fmt"

	"apiguard/internal/audit"
	"apiguard/internal/config"
	"apiguard/internal/worker/handlers"
	"apiguard/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Server 归档任务 Worker
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// NewServer 创建 Worker 服务器
func NewServer(cfg config.RedisConfig, archiver *audit.DBArchiver, logger *zap.Logger) *Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"audit":   3,
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("任务执行失败",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()
	auditHandler := handlers.NewAuditHandler(archiver, logger)
	mux.HandleFunc(tasks.TypeArchiveSecurityEvent, auditHandler.HandleArchiveEvent)

	return &Server{
		server: srv,
		mux:    mux,
		logger: logger,
	}
}

// Run 阻塞启动
func (s *Server) Run() error {
	s.logger.Info("归档 Worker 启动中...")
	return s.server.Run(s.mux)
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("归档 Worker 启动中 (后台)...")
	return s.server.Start(s.mux)
}

// Shutdown 停止 Worker
func (s *Server) Shutdown() {
	s.logger.Info("归档 Worker 停止中...")
	s.server.Shutdown()
}
