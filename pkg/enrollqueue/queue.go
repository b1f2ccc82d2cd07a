// Package enrollqueue consumes manual enrollment requests from a Redis list.
package enrollqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const DefaultQueue = "dripline:enrollments"

// Request asks the engine to enroll a contact into a workflow.
type Request struct {
	WorkflowID string `json:"workflow_id"`
	ContactID  string `json:"contact_id"`
}

// EnrollFunc handles a decoded enrollment request.
type EnrollFunc func(ctx context.Context, req Request) error

// Consumer pops enrollment requests off a Redis list with BLPop and hands
// them to the engine. Malformed messages are logged and dropped.
type Consumer struct {
	client   redis.UniversalClient
	queue    string
	callback EnrollFunc
	logger   *slog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewConsumer(ctx context.Context, redisURL, queue string, logger *slog.Logger) (*Consumer, error) {
	if queue == "" {
		queue = DefaultQueue
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Consumer{
		client: client,
		queue:  queue,
		stopCh: make(chan struct{}),
		logger: logger.With("module", "enrollqueue", "queue", queue),
	}, nil
}

// Start begins consuming in a background goroutine.
func (c *Consumer) Start(ctx context.Context, callback EnrollFunc) error {
	c.logger.InfoContext(ctx, "Starting enrollment queue consumer")
	c.callback = callback

	c.wg.Add(1)

	go c.consume(ctx)

	return nil
}

// Push enqueues an enrollment request. Used by the send CLI.
func (c *Consumer) Push(ctx context.Context, req Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal enrollment request: %w", err)
	}

	return c.client.RPush(ctx, c.queue, payload).Err()
}

func (c *Consumer) consume(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			c.logger.InfoContext(ctx, "Enrollment queue consumer stopped")

			return
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Context cancelled, stopping enrollment queue consumer")

			return
		default:
			err := c.processMessage(ctx)
			if err != nil {
				c.logger.ErrorContext(ctx, "Error processing enrollment request", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context) error {
	result, err := c.client.BLPop(ctx, 1*time.Second, c.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	req, err := decodeRequest([]byte(result[1]))
	if err != nil {
		c.logger.ErrorContext(ctx, "Dropping malformed enrollment request",
			"error", err, "message", result[1])

		return nil
	}

	err = c.callback(ctx, req)
	if err != nil {
		c.logger.ErrorContext(ctx, "Enrollment request rejected",
			"error", err, "workflow_id", req.WorkflowID, "contact_id", req.ContactID)
	}

	return nil
}

func decodeRequest(payload []byte) (Request, error) {
	var req Request

	if err := json.Unmarshal(payload, &req); err != nil {
		return req, fmt.Errorf("failed to decode enrollment request: %w", err)
	}

	if req.WorkflowID == "" || req.ContactID == "" {
		return req, errors.New("enrollment request requires workflow_id and contact_id")
	}

	return req, nil
}

// Stop halts consumption and closes the Redis connection.
func (c *Consumer) Stop(ctx context.Context) error {
	close(c.stopCh)
	c.wg.Wait()

	if c.client != nil {
		err := c.client.Close()
		if err != nil {
			c.logger.ErrorContext(ctx, "Error closing Redis client", "error", err)
		}
	}

	return nil
}
