package jobs

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

// Client submits tasks to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueuePurgeRefreshTokens schedules an immediate purge run. Only one manual
// purge is accepted per minute.
func (c *Client) EnqueuePurgeRefreshTokens(ctx context.Context, grace time.Duration) (*asynq.TaskInfo, error) {
	task, err := NewPurgeRefreshTokensTask(grace)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3), asynq.Unique(time.Minute))
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
