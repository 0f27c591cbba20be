package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TaskProcessDocument is the task name the processing pipeline is registered under.
const TaskProcessDocument = "process_document"

const (
	pendingKey    = "queue:jobs"
	processingKey = "queue:processing"
)

// ErrEmpty is returned by Dequeue when no job arrived before the timeout.
var ErrEmpty = errors.New("queue empty")

// Job is one unit of queued work.
type Job struct {
	Task       string    `json:"task"`
	DocumentID uuid.UUID `json:"document_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	raw string
}

// RedisQueue is a reliable Redis list queue. Dequeued jobs are parked on a
// processing list until acknowledged, so a crashed worker's jobs are delivered again.
type RedisQueue struct {
	rdb *redis.Client
}

func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

// Dispatch enqueues the processing pipeline for one document.
func (q *RedisQueue) Dispatch(ctx context.Context, documentID uuid.UUID) error {
	return q.Enqueue(ctx, TaskProcessDocument, documentID)
}

// Enqueue pushes a job for task onto the queue.
func (q *RedisQueue) Enqueue(ctx context.Context, task string, documentID uuid.UUID) error {
	data, err := json.Marshal(Job{
		Task:       task,
		DocumentID: documentID,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, pendingKey, data).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", task, err)
	}
	return nil
}

// Dequeue waits up to timeout for the next job.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	raw, err := q.rdb.BLMove(ctx, pendingKey, processingKey, "RIGHT", "LEFT", timeout).Result()
	if err == redis.Nil {
		return nil, ErrEmpty
	} else if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// unparseable payloads would be redelivered forever
		q.rdb.LRem(ctx, processingKey, 1, raw)
		return nil, fmt.Errorf("decode job %q: %w", raw, err)
	}
	job.raw = raw
	return &job, nil
}

// Ack removes a finished job from the processing list.
func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	return q.rdb.LRem(ctx, processingKey, 1, job.raw).Err()
}

// Recover puts jobs left on the processing list back on the queue.
// Call it once at worker start, before any worker dequeues. The processing
// list is shared, so this assumes a single consumer process per queue.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.rdb.LMove(ctx, processingKey, pendingKey, "RIGHT", "RIGHT").Err()
		if err == redis.Nil {
			return n, nil
		} else if err != nil {
			return n, err
		}
		n++
	}
}

// Len reports how many jobs are waiting.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, pendingKey).Result()
}
