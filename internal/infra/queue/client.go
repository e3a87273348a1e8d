package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"apiguard/internal/audit"
	"apiguard/internal/config"
	"apiguard/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// Client 归档任务队列客户端
// Enqueue 实现 audit.Archiver，把事件持久化移出请求路径
type Client interface {
	Enqueue(ev audit.SecurityEvent) error
	Close() error
}

type asynqClient struct {
	client *asynq.Client
}

// NewClient 创建任务队列客户端
func NewClient(cfg config.RedisConfig) Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &asynqClient{client: client}
}

func (c *asynqClient) Enqueue(ev audit.SecurityEvent) error {
	payload, err := json.Marshal(tasks.ArchiveSecurityEventPayload{Event: ev})
	if err != nil {
		return fmt.Errorf("序列化归档载荷失败: %w", err)
	}

	task := asynq.NewTask(tasks.TypeArchiveSecurityEvent, payload)

	// 归档写入幂等，重试安全
	_, err = c.client.Enqueue(task,
		asynq.MaxRetry(5),
		asynq.Timeout(time.Minute),
		asynq.Queue("audit"),
	)
	if err != nil {
		return fmt.Errorf("归档任务入队失败: %w", err)
	}
	return nil
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}
