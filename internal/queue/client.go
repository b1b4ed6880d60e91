package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/embedbot/embedbot/internal/config"
)

type Client struct {
	client *asynq.Client
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueFileProcess schedules one pipeline run. The task id is derived
// from the file id so a file is never queued twice concurrently, and
// the queue never retries a failed run on its own.
func (c *Client) EnqueueFileProcess(payload FileProcessPayload) error {
	return c.enqueue(TypeFileProcess, payload,
		asynq.TaskID(TypeFileProcess+":"+payload.FileID),
		asynq.MaxRetry(0),
		asynq.Timeout(10*time.Minute))
}

func (c *Client) EnqueueSchemaReset(payload SchemaResetPayload) error {
	return c.enqueue(TypeSchemaReset, payload,
		asynq.TaskID(TypeSchemaReset+":"+payload.TenantID),
		asynq.MaxRetry(1),
		asynq.Timeout(2*time.Minute))
}

func (c *Client) enqueue(taskType string, payload interface{}, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	_, err = c.client.Enqueue(task, opts...)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}
