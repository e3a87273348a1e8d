package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"apiguard/api"
	"apiguard/internal/audit"
	"apiguard/internal/config"
	"apiguard/internal/fastfail"
	"apiguard/internal/gateway"
	"apiguard/internal/infra"
	"apiguard/internal/infra/queue"
	"apiguard/internal/logger"
	"apiguard/internal/metrics"
	"apiguard/internal/worker"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 构建时通过 -ldflags 注入
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// 0. 统一加载 .env，便于集中管理 APP_* 环境变量
	loadEnvFile()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 1. 加载配置
	cfg, err := config.Load(env, "")
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.String("env", env),
		zap.String("mode", cfg.Server.Mode),
		zap.String("version", version),
	)
	metrics.RecordBuildInfo(version, runtime.Version(), commit)

	// 3. 初始化归档数据库（可选，未配置 host 时跳过）
	db, archiver := initArchiveStore(cfg)

	// 4. 组装审计引擎
	engine := buildAuditEngine(cfg, archiver != nil)

	// 5. 组装快速失败匹配器
	matcher := buildFastFailMatcher(cfg)

	// 6. 组装网关健康监控
	alertHub := gateway.NewAlertHub()
	monitor := gateway.NewMonitor(cfg.Gateway, gateway.WithAlertSink(alertHub))
	monitor.Start()

	// 7. 启动归档 Worker（仅在归档库可用时）
	var workerServer *worker.Server
	if cfg.Audit.ArchiveEnabled && archiver != nil {
		workerServer = worker.NewServer(cfg.Redis, archiver, logger.Named("worker"))
		go func() {
			if err := workerServer.Run(); err != nil {
				logger.Fatal("Worker 服务器启动失败", zap.Error(err))
			}
		}()
	}

	// 8. 创建路由与 HTTP 服务器
	router := api.SetupRouter(cfg, api.Deps{
		Engine:   engine,
		Matcher:  matcher,
		Monitor:  monitor,
		AlertHub: alertHub,
		Archiver: archiver,
		DB:       db,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务器启动失败", zap.Error(err))
		}
	}()

	// 9. 优雅关闭
	gracefulShutdown(server, workerServer, monitor)
}

// initArchiveStore 初始化归档数据库与归档器
// 未配置数据库时降级为纯内存模式，归档相关接口返回 503
func initArchiveStore(cfg *config.Config) (db *gorm.DB, archiver *audit.DBArchiver) {
	if cfg.Database.Host == "" {
		logger.Info("未配置归档数据库，事件仅保留在内存环形缓冲中")
		return nil, nil
	}

	gormDB, err := infra.InitDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("初始化归档数据库失败", zap.Error(err))
	}

	archiver = audit.NewDBArchiver(gormDB)
	if cfg.Database.AutoMigrate {
		if err := archiver.AutoMigrate(); err != nil {
			logger.Fatal("归档表迁移失败", zap.Error(err))
		}
	} else {
		logger.Info("跳过自动迁移（配置已禁用）")
	}
	return gormDB, archiver
}

// buildAuditEngine 按配置组装审计引擎
func buildAuditEngine(cfg *config.Config, archiveAvailable bool) *audit.Engine {
	var opts []audit.Option

	if cfg.Audit.ArchiveEnabled && archiveAvailable {
		opts = append(opts, audit.WithArchiver(queue.NewClient(cfg.Redis)))
	}

	if cfg.Audit.PatternsFile != "" {
		pf, err := config.LoadPatternsFile(cfg.Audit.PatternsFile)
		if err != nil {
			logger.Fatal("加载异常模式文件失败", zap.Error(err))
		}
		if patterns := audit.PatternsFromSpecs(pf.AnomalyPatterns); len(patterns) > 0 {
			opts = append(opts, audit.WithPatterns(patterns))
		}
	}

	return audit.NewEngine(cfg.Audit.BufferSize, opts...)
}

// buildFastFailMatcher 按配置组装快速失败匹配器
func buildFastFailMatcher(cfg *config.Config) *fastfail.Matcher {
	var opts []fastfail.MatcherOption

	if cfg.FastFail.UseRedisCache {
		client, err := infra.InitRedis(&cfg.Redis)
		if err != nil {
			logger.Fatal("初始化 Redis 失败", zap.Error(err))
		}
		opts = append(opts, fastfail.WithCache(fastfail.NewRedisCache(client)))
	}

	if cfg.FastFail.PatternsFile != "" {
		pf, err := config.LoadPatternsFile(cfg.FastFail.PatternsFile)
		if err != nil {
			logger.Fatal("加载错误模式文件失败", zap.Error(err))
		}
		if patterns := fastfail.PatternsFromSpecs(pf.ErrorPatterns); len(patterns) > 0 {
			opts = append(opts, fastfail.WithPatterns(patterns))
		}
	}

	return fastfail.NewMatcher(
		cfg.FastFail.FailureThreshold,
		time.Duration(cfg.FastFail.CooldownSeconds)*time.Second,
		time.Duration(cfg.FastFail.CriticalLatencyMS)*time.Millisecond,
		time.Duration(cfg.FastFail.CacheTTLSeconds)*time.Second,
		opts...,
	)
}

// loadEnvFile 依次尝试加载当前目录及上级目录的 .env 文件
func loadEnvFile() {
	if path := resolveEnvPath(); path != "" {
		if err := godotenv.Load(path); err != nil {
			fmt.Printf("加载环境变量文件 %s 失败: %v\n", path, err)
		} else {
			fmt.Printf("已加载环境变量文件: %s\n", path)
		}
	} else {
		fmt.Println("未找到 .env 文件，将仅使用系统环境变量和 config/* 配置")
	}
}

// resolveEnvPath 尝试从当前工作目录、可执行文件目录向上查找根目录 .env
func resolveEnvPath() string {
	candidates := collectEnvCandidates()
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func collectEnvCandidates() []string {
	seen := make(map[string]struct{})
	var candidates []string
	add := func(path string) {
		if path == "" {
			return
		}
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		candidates = append(candidates, path)
	}

	traverse := func(start string) {
		dir := filepath.Clean(start)
		for i := 0; i < 8; i++ {
			if dir == "" || dir == string(filepath.Separator) || dir == "." {
				break
			}
			add(filepath.Join(dir, ".env"))
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if wd, err := os.Getwd(); err == nil {
		traverse(wd)
	}
	if exe, err := os.Executable(); err == nil {
		traverse(filepath.Dir(exe))
	}

	return candidates
}

// gracefulShutdown 优雅关闭
func gracefulShutdown(server *http.Server, workerServer *worker.Server, monitor *gateway.Monitor) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	monitor.Stop()

	if workerServer != nil {
		workerServer.Shutdown()
	}

	if err := infra.CloseDatabase(); err != nil {
		logger.Error("数据库关闭异常", zap.Error(err))
	}

	logger.Info("服务器已安全关闭")
}
