package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/channel-service/internal/domain"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestGrantRole_RejectsUnknownRole(t *testing.T) {
	err := execute(t, "grant-role", "ada", "Owner")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown role")
}

func TestGrantRole_RequiresTwoArgs(t *testing.T) {
	assert.Error(t, execute(t, "grant-role", "ada"))
}

func TestIssueToken_RequiresPassword(t *testing.T) {
	err := execute(t, "issue-token", "ada")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password")
}

func TestFormatRoles(t *testing.T) {
	assert.Equal(t, "Root, Admin", formatRoles([]domain.Role{domain.RoleRoot, domain.RoleAdmin}))
	assert.Equal(t, "", formatRoles(nil))
}
