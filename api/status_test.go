package api_test

import (
	"testing"

	"github.com/programme-lv/grader/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, api.StatusComplete.IsTerminal())
	assert.False(t, api.StatusSaving.IsTerminal())
	assert.False(t, api.StatusQueued.IsTerminal())
	assert.False(t, api.Status("complete-bogus").IsTerminal())

	for _, stage := range api.Stages {
		assert.True(t, api.ErrorStatus(stage).IsTerminal(), stage)
		assert.True(t, api.ExceptionStatus(stage).IsTerminal(), stage)
		assert.True(t, api.ExceptionStatus(stage).IsException(), stage)
		assert.False(t, api.ErrorStatus(stage).IsException(), stage)
	}

	assert.Equal(t, api.Status("complete-exception-builder_build"), api.ExceptionStatus(api.StageBuilderBuild))
	assert.Equal(t, api.Status("complete-error-tester_run"), api.ErrorStatus(api.StageTesterRun))
	assert.Len(t, api.Statuses(), 10+2*len(api.Stages))
}

func TestStatusRankIsMonotonic(t *testing.T) {
	order := []api.Status{
		api.StatusQueued,
		api.StatusInitializingEnv,
		api.StatusInitializingBuild,
		api.StatusBuilding,
		api.StatusInitializingRun,
		api.StatusRunning,
		api.StatusReporting,
		api.StatusCleaningUp,
		api.StatusSaving,
		api.StatusComplete,
	}
	for i := 1; i < len(order); i++ {
		assert.Less(t, order[i-1].Rank(), order[i].Rank())
	}
	assert.Equal(t, -1, api.Status("nope").Rank())
}

func TestRunFields(t *testing.T) {
	run := api.Run{ID: "r1", Status: api.StatusQueued}
	fields := run.Fields()
	require.Equal(t, "", fields["score"])
	require.Equal(t, "0", fields["retcode"])
	require.False(t, run.IsComplete())

	score := 7.5
	run.Score = &score
	run.Retcode = -1
	run.Status = api.ExceptionStatus(api.StageEnv)
	fields = run.Fields()
	assert.Equal(t, "7.5", fields["score"])
	assert.Equal(t, "-1", fields["retcode"])
	assert.Equal(t, "complete-exception-env", fields["status"])
	assert.True(t, run.IsComplete())
}

func TestLimitsOr(t *testing.T) {
	def := api.Limits{CPUSeconds: 5, WallSeconds: 10}
	assert.Equal(t, def, api.Limits{}.Or(def))
	assert.Equal(t, api.Limits{CPUSeconds: 1, WallSeconds: 10}, api.Limits{CPUSeconds: 1}.Or(def))
}
