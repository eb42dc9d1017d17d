package redis

import (
	"context"
	"encoding/json"
	"fmt"
)

// 队列常量
const (
	QueueAlerts        = "alerts"
	QueueActionHistory = "actions:history"

	// 列表最多保留的条数
	DefaultQueueMaxLen int64 = 1000
)

// QueueService Redis列表队列
type QueueService struct {
	client    Commands
	keyPrefix string
	maxLen    int64
}

// NewQueueService 创建新的队列服务
func NewQueueService(client Commands, keyPrefix string) *QueueService {
	return &QueueService{
		client:    client,
		keyPrefix: keyPrefix,
		maxLen:    DefaultQueueMaxLen,
	}
}

// 获取完整的队列名称
func (q *QueueService) getQueueKey(queue string) string {
	return fmt.Sprintf("%s%s", q.keyPrefix, queue)
}

// PushTask 将任务推送到队列头部，并裁剪到最大长度
func (q *QueueService) PushTask(ctx context.Context, queue string, task interface{}) error {
	taskData, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("序列化任务失败: %w", err)
	}

	queueKey := q.getQueueKey(queue)
	if err := q.client.LPush(ctx, queueKey, string(taskData)).Err(); err != nil {
		return fmt.Errorf("推送到队列%s失败: %w", queueKey, err)
	}

	if err := q.client.LTrim(ctx, queueKey, 0, q.maxLen-1).Err(); err != nil {
		return fmt.Errorf("裁剪队列%s失败: %w", queueKey, err)
	}
	return nil
}
