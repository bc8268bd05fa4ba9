package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()

	for _, path := range [][]string{
		{"serve"},
		{"migrate"},
		{"catalog", "sync"},
		{"scheduler"},
		{"role", "grant"},
		{"role", "revoke"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	assert.NotNil(t, serve.Flags().Lookup("migrate"))

	sched, _, err := root.Find([]string{"scheduler"})
	require.NoError(t, err)
	assert.NotNil(t, sched.Flags().Lookup("once"))
}

func TestRoleCommandsRequireTwoArgs(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"role", "grant", "only-user"})
	assert.Error(t, root.Execute())
}

func TestReadVersionFromEnv(t *testing.T) {
	t.Setenv("APP_VERSION", " 1.2.3 ")
	assert.Equal(t, "1.2.3", readVersionFromEnv())

	t.Setenv("APP_VERSION", "")
	assert.Equal(t, "dev", readVersionFromEnv())
}
