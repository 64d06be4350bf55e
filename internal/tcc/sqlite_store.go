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
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteStore 嵌入式 SQLite 实现，单机部署免外部依赖
type sqliteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tool_contexts (
	job_id     TEXT PRIMARY KEY,
	revision   INTEGER NOT NULL DEFAULT 0,
	doc        TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// NewSQLiteStore 创建基于 SQLite 的 TCC 存储；path 为数据库文件路径（":memory:" 可用于测试）
func NewSQLiteStore(ctx context.Context, path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// modernc/sqlite 写并发受限，单连接串行化
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db}, nil
}

// Close 关闭数据库
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) Get(ctx context.Context, jobID string) (*ToolConstructionContext, error) {
	return s.scanRow(s.db.QueryRowContext(ctx,
		`SELECT doc, revision FROM tool_contexts WHERE job_id = ?`, jobID))
}

func (s *sqliteStore) scanRow(row *sql.Row) (*ToolConstructionContext, error) {
	var doc string
	var revision int
	if err := row.Scan(&doc, &revision); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var c ToolConstructionContext
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return nil, err
	}
	c.Revision = revision
	return &c, nil
}

func (s *sqliteStore) Save(ctx context.Context, c *ToolConstructionContext) error {
	if c == nil || c.JobID == "" {
		return ErrNotFound
	}
	stored := c.Clone()
	stored.UpdatedAt = time.Now().UTC()
	doc, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO tool_contexts (job_id, revision, doc, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		stored.JobID, stored.Revision, string(doc),
		stored.CreatedAt.Format(time.RFC3339Nano), stored.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *sqliteStore) Update(ctx context.Context, jobID string, expectedRevision int, patch Patch) (*ToolConstructionContext, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var doc string
	var revision int
	err = tx.QueryRowContext(ctx,
		`SELECT doc, revision FROM tool_contexts WHERE job_id = ?`, jobID).Scan(&doc, &revision)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var cur ToolConstructionContext
	if err := json.Unmarshal([]byte(doc), &cur); err != nil {
		return nil, err
	}
	cur.Revision = revision
	if expectedRevision != AnyRevision && cur.Revision != expectedRevision {
		return nil, ErrRevisionMismatch
	}
	if cur.CurrentOrchestrationStep.IsTerminal() && !patch.statusOnly() {
		return nil, ErrTerminal
	}
	patch.Apply(&cur)
	cur.Revision++
	cur.UpdatedAt = time.Now().UTC()
	newDoc, err := json.Marshal(&cur)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tool_contexts SET revision = ?, doc = ?, updated_at = ? WHERE job_id = ?`,
		cur.Revision, string(newDoc), cur.UpdatedAt.Format(time.RFC3339Nano), jobID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &cur, nil
}
