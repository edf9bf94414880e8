package testdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetTestDatabaseURL_Preference(t *testing.T) {
	t.Setenv(EnvTestDBURL, "")
	t.Setenv(EnvDatabaseURL, "")
	t.Setenv(EnvAppDatabaseURL, "")
	assert.False(t, IsIntegrationTestEnvironment())

	t.Setenv(EnvAppDatabaseURL, "postgres://app")
	assert.Equal(t, "postgres://app", GetTestDatabaseURL())

	t.Setenv(EnvDatabaseURL, "postgres://generic")
	assert.Equal(t, "postgres://generic", GetTestDatabaseURL())

	t.Setenv(EnvTestDBURL, "postgres://test")
	assert.Equal(t, "postgres://test", GetTestDatabaseURL())
	assert.True(t, IsIntegrationTestEnvironment())
}

func TestMaskDatabaseURL(t *testing.T) {
	t.Parallel()
	masked := MaskDatabaseURL("postgres://svc:hunter2@db:5432/tasks")
	assert.NotContains(t, masked, "hunter2")
	assert.Contains(t, masked, "svc:")
	assert.Contains(t, masked, "@db:5432/tasks")
	assert.Equal(t, "postgres://db/tasks", MaskDatabaseURL("postgres://db/tasks"))
	assert.Equal(t, "<unparseable database url>", MaskDatabaseURL("postgres://a b:%zz@x"))
}
