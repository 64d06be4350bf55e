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
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgStore PostgreSQL 实现：单表 JSONB 文档 + revision 列做 CAS
type pgStore struct {
	pool *pgxpool.Pool
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS tool_contexts (
	job_id     TEXT PRIMARY KEY,
	revision   INT NOT NULL DEFAULT 0,
	doc        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// NewPostgresStore 创建基于 PostgreSQL 的 TCC 存储；dsn 为连接串
func NewPostgresStore(ctx context.Context, dsn string) (Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, err
	}
	return &pgStore{pool: pool}, nil
}

// Close 关闭连接池（可选，用于优雅退出）
func (s *pgStore) Close() {
	s.pool.Close()
}

func (s *pgStore) Get(ctx context.Context, jobID string) (*ToolConstructionContext, error) {
	return scanContext(s.pool.QueryRow(ctx,
		`SELECT doc, revision FROM tool_contexts WHERE job_id = $1`, jobID))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContext(row rowScanner) (*ToolConstructionContext, error) {
	var doc []byte
	var revision int
	if err := row.Scan(&doc, &revision); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var c ToolConstructionContext
	if err := json.Unmarshal(doc, &c); err != nil {
		return nil, err
	}
	c.Revision = revision
	return &c, nil
}

func (s *pgStore) Save(ctx context.Context, c *ToolConstructionContext) error {
	if c == nil || c.JobID == "" {
		return ErrNotFound
	}
	stored := c.Clone()
	stored.UpdatedAt = time.Now().UTC()
	doc, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO tool_contexts (job_id, revision, doc, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (job_id) DO NOTHING`,
		stored.JobID, stored.Revision, doc, stored.CreatedAt, stored.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *pgStore) Update(ctx context.Context, jobID string, expectedRevision int, patch Patch) (*ToolConstructionContext, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanContext(tx.QueryRow(ctx,
		`SELECT doc, revision FROM tool_contexts WHERE job_id = $1 FOR UPDATE`, jobID))
	if err != nil {
		return nil, err
	}
	if expectedRevision != AnyRevision && cur.Revision != expectedRevision {
		return nil, ErrRevisionMismatch
	}
	if cur.CurrentOrchestrationStep.IsTerminal() && !patch.statusOnly() {
		return nil, ErrTerminal
	}
	patch.Apply(cur)
	cur.Revision++
	cur.UpdatedAt = time.Now().UTC()
	doc, err := json.Marshal(cur)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE tool_contexts SET revision = $2, doc = $3, updated_at = $4 WHERE job_id = $1`,
		jobID, cur.Revision, doc, cur.UpdatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return cur, nil
}
