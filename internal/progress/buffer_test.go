// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"toolforge/internal/tcc"
	"toolforge/pkg/log"
)

// collectEmitter 记录收到的事件，可按序注入失败
type collectEmitter struct {
	mu     sync.Mutex
	events []Event
	errs   []error
	calls  int
}

func (c *collectEmitter) Emit(ctx context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		if err != nil {
			return err
		}
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *collectEmitter) received() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func testLogger(t *testing.T) *log.Logger {
	t.Helper()
	l, err := log.NewLogger(nil)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return l
}

func testEvent(jobID, msg string) Event {
	return NewEvent(jobID, tcc.StepDesigningState, tcc.StatusInProgress, msg, nil)
}

func TestBufferFlushOnTick(t *testing.T) {
	sink := &collectEmitter{}
	tick := make(chan time.Time)
	b := NewBuffer(sink, BufferConfig{
		Ticker: func(d time.Duration) (<-chan time.Time, func()) { return tick, func() {} },
	}, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	if err := b.Emit(ctx, testEvent("tcc-1", "first")); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := b.Emit(ctx, testEvent("tcc-1", "second")); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if got := b.Len(); got != 2 {
		t.Fatalf("Len before tick: got %d", got)
	}

	tick <- time.Now()
	b.Stop()

	got := sink.received()
	if len(got) != 2 {
		t.Fatalf("flushed events: got %d, want 2", len(got))
	}
	if got[0].Message != "first" || got[1].Message != "second" {
		t.Errorf("flush order: got %q, %q", got[0].Message, got[1].Message)
	}
}

func TestBufferStopFlushesRemainder(t *testing.T) {
	sink := &collectEmitter{}
	tick := make(chan time.Time)
	b := NewBuffer(sink, BufferConfig{
		Ticker: func(d time.Duration) (<-chan time.Time, func()) { return tick, func() {} },
	}, testLogger(t))
	b.Start(context.Background())

	b.Emit(context.Background(), testEvent("tcc-2", "pending"))
	b.Stop()

	if got := sink.received(); len(got) != 1 || got[0].Message != "pending" {
		t.Fatalf("final flush: got %+v", got)
	}
}

func TestBufferRetriesThenDrops(t *testing.T) {
	boom := errors.New("sink down")
	sink := &collectEmitter{errs: []error{boom, boom, boom}}
	b := NewBuffer(sink, BufferConfig{MaxRetries: 2}, testLogger(t))

	ctx := context.Background()
	b.Emit(ctx, testEvent("tcc-3", "doomed"))

	// 前两次 flush 失败后重新入队
	b.Flush(ctx)
	if got := b.Len(); got != 1 {
		t.Fatalf("after first failed flush: queued %d, want 1", got)
	}
	b.Flush(ctx)
	if got := b.Len(); got != 1 {
		t.Fatalf("after second failed flush: queued %d, want 1", got)
	}

	// 第三次失败超出预算，事件被丢弃
	b.Flush(ctx)
	if got := b.Len(); got != 0 {
		t.Fatalf("after retry budget exhausted: queued %d, want 0", got)
	}
	if got := sink.received(); len(got) != 0 {
		t.Fatalf("no event should have been delivered, got %d", len(got))
	}
}

func TestBufferRetryEventuallyDelivers(t *testing.T) {
	boom := errors.New("sink down")
	sink := &collectEmitter{errs: []error{boom}}
	b := NewBuffer(sink, BufferConfig{MaxRetries: 2}, testLogger(t))

	ctx := context.Background()
	b.Emit(ctx, testEvent("tcc-4", "recovers"))
	b.Flush(ctx)
	b.Flush(ctx)

	if got := sink.received(); len(got) != 1 || got[0].Message != "recovers" {
		t.Fatalf("retry delivery: got %+v", got)
	}
}

func TestBufferRequeuePreservesOrder(t *testing.T) {
	boom := errors.New("sink down")
	sink := &collectEmitter{errs: []error{boom, boom}}
	b := NewBuffer(sink, BufferConfig{MaxRetries: 3}, testLogger(t))

	ctx := context.Background()
	b.Emit(ctx, testEvent("tcc-5", "a"))
	b.Emit(ctx, testEvent("tcc-5", "b"))
	b.Flush(ctx)

	// 新事件在失败重入队事件之后
	b.Emit(ctx, testEvent("tcc-5", "c"))
	b.Flush(ctx)

	got := sink.received()
	if len(got) != 3 {
		t.Fatalf("delivered %d events, want 3", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got[i].Message != want {
			t.Errorf("event %d: got %q, want %q", i, got[i].Message, want)
		}
	}
}

func TestBufferOverflowDropsOldest(t *testing.T) {
	sink := &collectEmitter{}
	b := NewBuffer(sink, BufferConfig{MaxBuffer: 2}, testLogger(t))

	ctx := context.Background()
	b.Emit(ctx, testEvent("tcc-6", "oldest"))
	b.Emit(ctx, testEvent("tcc-6", "middle"))
	b.Emit(ctx, testEvent("tcc-6", "newest"))
	if got := b.Len(); got != 2 {
		t.Fatalf("queue length after overflow: got %d, want 2", got)
	}

	b.Flush(ctx)
	got := sink.received()
	if len(got) != 2 || got[0].Message != "middle" || got[1].Message != "newest" {
		t.Fatalf("overflow should drop the oldest event, got %+v", got)
	}
}

func TestBufferStopIdempotent(t *testing.T) {
	b := NewBuffer(&collectEmitter{}, BufferConfig{}, testLogger(t))
	b.Start(context.Background())
	b.Stop()
	b.Stop()
}
