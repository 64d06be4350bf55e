// Copyright 2026 fanjia1024
// Tests for model registry

package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolforge/internal/model/llm"
	"toolforge/pkg/config"
	"toolforge/pkg/log"
)

// fakeClient 测试用客户端，可按序注入结果
type fakeClient struct {
	model     string
	provider  string
	responses []string
	errs      []error
	calls     int
}

func (f *fakeClient) Chat(ctx context.Context, messages []llm.Message, options llm.GenerateOptions) (string, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	if len(f.responses) > 0 {
		return f.responses[len(f.responses)-1], nil
	}
	return "", nil
}

func (f *fakeClient) Model() string    { return f.model }
func (f *fakeClient) Provider() string { return f.provider }

func newTestLogger(t *testing.T) *log.Logger {
	t.Helper()
	l, err := log.NewLogger(nil)
	require.NoError(t, err)
	return l
}

func TestResolve_Registered(t *testing.T) {
	r := NewRegistry(newTestLogger(t))
	want := &fakeClient{model: "gpt-4o", provider: "openai"}
	r.Register("gpt-4o", want)

	got, err := r.Resolve("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestResolve_UnknownFallsBackToDefault(t *testing.T) {
	r := NewRegistry(newTestLogger(t))
	def := &fakeClient{model: "gpt-4o", provider: "openai"}
	r.Register("gpt-4o", def)
	require.NoError(t, r.SetDefault("gpt-4o"))

	got, err := r.Resolve("model-nobody-configured")
	require.NoError(t, err)
	assert.Equal(t, def, got)
}

func TestResolve_EmptyUsesDefault(t *testing.T) {
	r := NewRegistry(newTestLogger(t))
	def := &fakeClient{model: "gpt-4o", provider: "openai"}
	r.Register("gpt-4o", def)
	require.NoError(t, r.SetDefault("gpt-4o"))

	got, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, def, got)
}

func TestResolve_NoDefault(t *testing.T) {
	r := NewRegistry(newTestLogger(t))
	_, err := r.Resolve("non-existent-llm")
	require.Error(t, err)
}

func TestSetDefault_Unregistered(t *testing.T) {
	r := NewRegistry(newTestLogger(t))
	err := r.SetDefault("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestNewRegistryFromConfig(t *testing.T) {
	cfg := config.ModelConfig{
		LLM: config.LLMConfig{
			Providers: map[string]config.ProviderConfig{
				"openai": {
					APIKey: "sk-test",
					Models: map[string]config.ModelInfo{
						"gpt-4o": {Name: "gpt-4o", MaxTokens: 8192},
					},
				},
				"claude": {
					APIKey: "sk-ant",
					Models: map[string]config.ModelInfo{
						"claude-3-7-sonnet": {Name: "claude-3-7-sonnet-20250219"},
					},
				},
			},
		},
		Defaults: config.DefaultsConfig{LLM: "gpt-4o"},
	}

	r, err := NewRegistryFromConfig(cfg, newTestLogger(t))
	require.NoError(t, err)
	assert.Len(t, r.Models(), 2)

	c, err := r.Resolve("claude-3-7-sonnet")
	require.NoError(t, err)
	assert.Equal(t, "claude", c.Provider())

	// 未知 ID 回落默认
	c, err = r.Resolve("unknown")
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Provider())
}
