package noop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftline/profileagent/model"
)

func TestBackend_LifecycleTransitions(t *testing.T) {
	b := New("app", 100)
	ctx := context.Background()

	assert.Equal(t, model.Uninitialized, b.State())

	require.NoError(t, b.Initialize(ctx))
	assert.Equal(t, model.Ready, b.State())

	require.NoError(t, b.Start(ctx))
	assert.Equal(t, model.Running, b.State())

	require.NoError(t, b.Stop(ctx))
	assert.Equal(t, model.Ready, b.State())

	require.NoError(t, b.Shutdown(ctx))
	assert.Equal(t, model.Stopped, b.State())
}

func TestBackend_Start_IllegalBeforeInitialize(t *testing.T) {
	b := New("app", 100)

	err := b.Start(context.Background())

	assert.Error(t, err)
}

func TestBackend_Report_ReflectsTagRules(t *testing.T) {
	b := New("app", 100)
	require.NoError(t, b.Initialize(context.Background()))

	require.NoError(t, b.AddRule(model.AddRule("env", "prod")))

	reports, err := b.Report()
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "prod", reports[0].Metadata.Tags["env"])
}

func TestBackend_Shutdown_IsIdempotent(t *testing.T) {
	b := New("app", 100)

	require.NoError(t, b.Shutdown(context.Background()))
	require.NoError(t, b.Shutdown(context.Background()))
}
