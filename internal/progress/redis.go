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
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "toolforge:progress:"

// RedisEmitter 通过 Redis Pub/Sub 推送进度事件，供跨进程观察方（如 API 的推送层）消费
type RedisEmitter struct {
	client *redis.Client
}

// NewRedisEmitter 创建 Redis 版 Emitter；addr 如 "localhost:6379"
func NewRedisEmitter(addr, password string, db int) (*RedisEmitter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisEmitter{client: client}, nil
}

// NewRedisEmitterWithClient 复用已有客户端（Worker 与触发队列共用连接）
func NewRedisEmitterWithClient(client *redis.Client) *RedisEmitter {
	return &RedisEmitter{client: client}
}

// Channel 返回某 job 的进度频道名
func Channel(jobID string) string {
	return channelPrefix + jobID
}

// Emit 实现 Emitter；序列化后 PUBLISH 到该 job 的频道
func (e *RedisEmitter) Emit(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return e.client.Publish(ctx, Channel(ev.JobID), payload).Err()
}

// Subscribe 订阅某 job 的进度频道；ctx 结束后通道关闭
func (e *RedisEmitter) Subscribe(ctx context.Context, jobID string) <-chan Event {
	sub := e.client.Subscribe(ctx, Channel(jobID))
	out := make(chan Event, subscriberBuffer)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Close 关闭底层客户端
func (e *RedisEmitter) Close() error {
	return e.client.Close()
}
