package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	waitingListKey = "sanctuary:waiting"
	waitingSetKey  = "sanctuary:waiting:members"
)

// WaitingQueue is the FIFO of users who consented and wait for a counselor.
// The list keeps order, the set makes Enqueue idempotent per user.
type WaitingQueue struct {
	client *redis.Client
}

func NewWaitingQueue(client *redis.Client) *WaitingQueue {
	return &WaitingQueue{client: client}
}

// Enqueue appends userID unless it is already waiting. It reports whether the
// user was added.
func (q *WaitingQueue) Enqueue(ctx context.Context, userID string) (bool, error) {
	added, err := q.client.SAdd(ctx, waitingSetKey, userID).Result()
	if err != nil {
		return false, fmt.Errorf("waiting queue: add %s: %w", userID, err)
	}
	if added == 0 {
		return false, nil
	}
	if err := q.client.RPush(ctx, waitingListKey, userID).Err(); err != nil {
		q.client.SRem(ctx, waitingSetKey, userID)
		return false, fmt.Errorf("waiting queue: push %s: %w", userID, err)
	}
	return true, nil
}

// Dequeue pops the longest-waiting user. An empty queue yields "".
func (q *WaitingQueue) Dequeue(ctx context.Context) (string, error) {
	userID, err := q.client.LPop(ctx, waitingListKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("waiting queue: pop: %w", err)
	}
	if err := q.client.SRem(ctx, waitingSetKey, userID).Err(); err != nil {
		return "", fmt.Errorf("waiting queue: release %s: %w", userID, err)
	}
	return userID, nil
}

// Requeue puts userID back at the head so it keeps its turn.
func (q *WaitingQueue) Requeue(ctx context.Context, userID string) error {
	added, err := q.client.SAdd(ctx, waitingSetKey, userID).Result()
	if err != nil {
		return fmt.Errorf("waiting queue: add %s: %w", userID, err)
	}
	if added == 0 {
		return nil
	}
	if err := q.client.LPush(ctx, waitingListKey, userID).Err(); err != nil {
		return fmt.Errorf("waiting queue: requeue %s: %w", userID, err)
	}
	return nil
}

// Remove drops userID from the queue, e.g. when they cancel.
func (q *WaitingQueue) Remove(ctx context.Context, userID string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, waitingListKey, 0, userID)
		pipe.SRem(ctx, waitingSetKey, userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("waiting queue: remove %s: %w", userID, err)
	}
	return nil
}

func (q *WaitingQueue) Contains(ctx context.Context, userID string) (bool, error) {
	ok, err := q.client.SIsMember(ctx, waitingSetKey, userID).Result()
	if err != nil {
		return false, fmt.Errorf("waiting queue: lookup %s: %w", userID, err)
	}
	return ok, nil
}

func (q *WaitingQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, waitingListKey).Result()
	if err != nil {
		return 0, fmt.Errorf("waiting queue: len: %w", err)
	}
	return n, nil
}
