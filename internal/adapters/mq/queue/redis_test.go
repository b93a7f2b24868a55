package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/reviewd-dev/reviewd/pkg/logger"
)

func newTestQueue(t *testing.T) (*miniredis.Miniredis, *RedisQueue) {
	t.Helper()
	if err := logger.Init(); err != nil {
		t.Fatalf("logger init: %v", err)
	}
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewRedisQueue(rdb, WithPollInterval(5*time.Millisecond))
	t.Cleanup(func() { q.Close() })
	return mr, q
}

func mustDequeue(t *testing.T, ch <-chan Task) Task {
	t.Helper()
	select {
	case task, ok := <-ch:
		if !ok {
			t.Fatal("dequeue channel closed unexpectedly")
		}
		return task
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task")
	}
	return Task{}
}

func TestRedisQueue_EnqueueDequeueAck(t *testing.T) {
	mr, q := newTestQueue(t)
	ctx := context.Background()

	if !q.Enqueue(ctx, Task{SubmissionID: "sub-1"}) {
		t.Fatal("enqueue failed")
	}
	if q.Len(ctx) != 1 {
		t.Fatalf("expected 1 pending, got %d", q.Len(ctx))
	}

	task := mustDequeue(t, q.Dequeue(ctx))
	if task.SubmissionID != "sub-1" {
		t.Errorf("got %q, want sub-1", task.SubmissionID)
	}

	// Claimed but unacked: the task sits in processing, not pending.
	if q.Len(ctx) != 0 {
		t.Errorf("pending should be empty after claim, got %d", q.Len(ctx))
	}
	if n, _ := mr.List(processingKey); len(n) != 1 {
		t.Errorf("processing should hold the claimed task, got %v", n)
	}

	if err := q.Ack(ctx, task); err != nil {
		t.Fatalf("ack failed: %v", err)
	}
	if entries, _ := mr.List(processingKey); len(entries) != 0 {
		t.Errorf("ack should clear processing, got %v", entries)
	}
}

func TestRedisQueue_FIFOOrder(t *testing.T) {
	_, q := newTestQueue(t)
	ctx := context.Background()

	q.Enqueue(ctx, Task{SubmissionID: "first"})
	q.Enqueue(ctx, Task{SubmissionID: "second"})

	ch := q.Dequeue(ctx)
	if got := mustDequeue(t, ch).SubmissionID; got != "first" {
		t.Errorf("oldest task should be claimed first, got %q", got)
	}
	if got := mustDequeue(t, ch).SubmissionID; got != "second" {
		t.Errorf("expected second, got %q", got)
	}
}

func TestRedisQueue_RecoverRedeliversUnacked(t *testing.T) {
	_, q := newTestQueue(t)
	ctx := context.Background()

	q.Enqueue(ctx, Task{SubmissionID: "sub-1"})
	consumeCtx, cancel := context.WithCancel(ctx)
	task := mustDequeue(t, q.Dequeue(consumeCtx))
	cancel() // worker "crashes" without ack

	recovered, err := q.Recover(ctx)
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("expected 1 recovered task, got %d", recovered)
	}

	redelivered := mustDequeue(t, q.Dequeue(ctx))
	if redelivered.SubmissionID != task.SubmissionID {
		t.Errorf("redelivered %q, want %q", redelivered.SubmissionID, task.SubmissionID)
	}
	if redelivered.Attempt != task.Attempt+1 {
		t.Errorf("attempt = %d, want %d", redelivered.Attempt, task.Attempt+1)
	}
}

func TestRedisQueue_RecoverEmptyProcessing(t *testing.T) {
	_, q := newTestQueue(t)

	recovered, err := q.Recover(context.Background())
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if recovered != 0 {
		t.Errorf("expected 0 recovered, got %d", recovered)
	}
}

func TestRedisQueue_PoisonEntryDropped(t *testing.T) {
	mr, q := newTestQueue(t)
	ctx := context.Background()

	mr.Lpush(pendingKey, "not-json")
	q.Enqueue(ctx, Task{SubmissionID: "good"})

	task := mustDequeue(t, q.Dequeue(ctx))
	if task.SubmissionID != "good" {
		t.Errorf("poison entry should be skipped, got %q", task.SubmissionID)
	}
	if entries, _ := mr.List(processingKey); len(entries) != 1 {
		t.Errorf("only the good task should remain in processing, got %v", entries)
	}
}

func TestRedisQueue_CloseStopsConsumer(t *testing.T) {
	_, q := newTestQueue(t)
	ctx := context.Background()

	ch := q.Dequeue(ctx)
	q.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue channel never closed")
	}

	if q.Enqueue(ctx, Task{SubmissionID: "x"}) {
		t.Error("enqueue should fail on a closed queue")
	}
}
