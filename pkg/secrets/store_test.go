package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestNewStore(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "memory", config: Config{Provider: "memory"}},
		{name: "env", config: Config{Provider: "env"}},
		{name: "default falls back to env", config: Config{Provider: ""}},
		// vault 需要可达的 server，离线环境应报连接错误
		{name: "vault unreachable", config: Config{Provider: "vault", Config: map[string]string{"address": "http://127.0.0.1:1"}}, wantErr: true},
		// k8s 需要 service account 挂载目录
		{name: "k8s outside cluster", config: Config{Provider: "k8s", Config: map[string]string{"service_account_path": "/nonexistent/sa"}}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store, err := NewStore(tc.config)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if store == nil {
				t.Fatalf("store should not be nil")
			}
		})
	}
}

func TestK8sStoreReadsMountedFiles(t *testing.T) {
	ctx := context.Background()
	saDir := t.TempDir()
	secretsDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(secretsDir, "OPENAI_API_KEY"), []byte("sk-test\n"), 0o600); err != nil {
		t.Fatalf("write secret file: %v", err)
	}

	s, err := NewK8sStore(K8sConfig{ServiceAccountPath: saDir, SecretsPath: secretsDir})
	if err != nil {
		t.Fatalf("NewK8sStore: %v", err)
	}

	got, err := s.Get(ctx, "OPENAI_API_KEY")
	if err != nil {
		t.Fatalf("get secret failed: %v", err)
	}
	// 挂载文件常带换行，读取时修剪
	if got != "sk-test" {
		t.Fatalf("get secret = %q, want sk-test", got)
	}

	if _, err := s.Get(ctx, "MISSING_KEY"); err == nil {
		t.Fatal("expected error for missing key")
	}

	// Set 只写进程内覆盖层，优先于挂载文件
	if err := s.Set(ctx, "OPENAI_API_KEY", "sk-override"); err != nil {
		t.Fatalf("set secret failed: %v", err)
	}
	got, err = s.Get(ctx, "OPENAI_API_KEY")
	if err != nil {
		t.Fatalf("get secret failed: %v", err)
	}
	if got != "sk-override" {
		t.Fatalf("get secret = %q, want sk-override", got)
	}

	keys, err := s.List(ctx, "OPENAI")
	if err != nil {
		t.Fatalf("list secrets failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "OPENAI_API_KEY" {
		t.Fatalf("list = %v, want [OPENAI_API_KEY]", keys)
	}
}

func TestMemoryAndEnvStoreBasicContract(t *testing.T) {
	ctx := context.Background()
	stores := []Store{NewMemoryStore(), NewEnvStore()}

	for _, s := range stores {
		if err := s.Set(ctx, "secret_test_key", "value"); err != nil {
			t.Fatalf("set secret failed: %v", err)
		}
		got, err := s.Get(ctx, "secret_test_key")
		if err != nil {
			t.Fatalf("get secret failed: %v", err)
		}
		if got != "value" {
			t.Fatalf("get secret = %q, want value", got)
		}
		if err := s.Delete(ctx, "secret_test_key"); err != nil {
			t.Fatalf("delete secret failed: %v", err)
		}
		_, err = s.Get(ctx, "secret_test_key")
		if err == nil {
			t.Fatalf("expected error after delete")
		}
	}
}
