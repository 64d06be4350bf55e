// Copyright 2026 fanjia1024
// Tests for agent model override resolution

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"toolforge/internal/tcc"
)

func TestResolveAgentModel_PerAgentMappingWins(t *testing.T) {
	c := tcc.New("user-1", tcc.UserInput{Description: "a mortgage calculator for first-time buyers"})
	c.SelectedModel = "gpt-4o"
	c.AgentModelMapping = map[string]string{"state_designer": "claude-3-7-sonnet"}

	assert.Equal(t, "claude-3-7-sonnet", ResolveAgentModel("state_designer", c))
}

func TestResolveAgentModel_SelectedModelFallback(t *testing.T) {
	c := tcc.New("user-1", tcc.UserInput{Description: "a mortgage calculator for first-time buyers"})
	c.SelectedModel = "gpt-4o"

	assert.Equal(t, "gpt-4o", ResolveAgentModel("state_designer", c))
}

func TestResolveAgentModel_DefaultSentinelMeansNoOverride(t *testing.T) {
	c := tcc.New("user-1", tcc.UserInput{Description: "a mortgage calculator for first-time buyers"})
	// New 置 SelectedModel 为哨兵值
	assert.Equal(t, tcc.DefaultModelSentinel, c.SelectedModel)
	assert.Equal(t, "", ResolveAgentModel("state_designer", c))
}

func TestResolveAgentModel_EmptyMappingEntryIgnored(t *testing.T) {
	c := tcc.New("user-1", tcc.UserInput{Description: "a mortgage calculator for first-time buyers"})
	c.SelectedModel = "gpt-4o"
	c.AgentModelMapping = map[string]string{"state_designer": ""}

	assert.Equal(t, "gpt-4o", ResolveAgentModel("state_designer", c))
}

func TestResolveAgentModel_AllBranchesUnset(t *testing.T) {
	c := tcc.New("user-1", tcc.UserInput{Description: "a mortgage calculator for first-time buyers"})
	c.SelectedModel = ""
	assert.Equal(t, "", ResolveAgentModel("layout_designer", c))
	assert.Equal(t, "", ResolveAgentModel("layout_designer", nil))
}
