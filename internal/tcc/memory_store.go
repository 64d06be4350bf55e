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

package tcc

import (
	"context"
	"sync"
	"time"
)

// memoryStore 内存实现：map + RWMutex，读写均深拷贝
type memoryStore struct {
	mu    sync.RWMutex
	byJob map[string]*ToolConstructionContext
}

// NewMemoryStore 创建内存版 TCC 存储
func NewMemoryStore() Store {
	return &memoryStore{byJob: make(map[string]*ToolConstructionContext)}
}

func (s *memoryStore) Get(ctx context.Context, jobID string) (*ToolConstructionContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byJob[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (s *memoryStore) Save(ctx context.Context, c *ToolConstructionContext) error {
	if c == nil || c.JobID == "" {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byJob[c.JobID]; ok {
		return ErrAlreadyExists
	}
	stored := c.Clone()
	stored.UpdatedAt = time.Now().UTC()
	s.byJob[c.JobID] = stored
	return nil
}

func (s *memoryStore) Update(ctx context.Context, jobID string, expectedRevision int, patch Patch) (*ToolConstructionContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byJob[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if expectedRevision != AnyRevision && cur.Revision != expectedRevision {
		return nil, ErrRevisionMismatch
	}
	if cur.CurrentOrchestrationStep.IsTerminal() && !patch.statusOnly() {
		return nil, ErrTerminal
	}
	next := cur.Clone()
	patch.Apply(next)
	next.Revision = cur.Revision + 1
	next.UpdatedAt = time.Now().UTC()
	s.byJob[jobID] = next
	return next.Clone(), nil
}
