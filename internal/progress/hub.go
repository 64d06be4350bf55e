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
	"sync"
)

const subscriberBuffer = 16

// Hub 进程内订阅中枢：按 jobID 扇出事件给观察方；订阅通道满时丢弃该订阅方的事件
type Hub struct {
	mu   sync.RWMutex
	subs map[string][]chan Event
}

// NewHub 创建进度订阅中枢
func NewHub() *Hub {
	return &Hub{subs: make(map[string][]chan Event)}
}

// Emit 实现 Emitter；向该 job 的所有订阅方非阻塞发送。
// 发送在读锁内进行，退订方持写锁才 close，两者不会交叠
func (h *Hub) Emit(ctx context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[ev.JobID] {
		select {
		case ch <- ev:
		default:
			// 慢订阅方丢事件，进度通道不提供送达保证
		}
	}
	return nil
}

// Subscribe 订阅某 job 的后续事件；ctx 结束后通道关闭并退订
func (h *Hub) Subscribe(ctx context.Context, jobID string) <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[jobID] = append(h.subs[jobID], ch)
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		chans := h.subs[jobID]
		for i, c := range chans {
			if c == ch {
				h.subs[jobID] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		if len(h.subs[jobID]) == 0 {
			delete(h.subs, jobID)
		}
		// close 必须在写锁内：Emit 的发送持读锁，锁外 close 会撞上在途发送
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}
