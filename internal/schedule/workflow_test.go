package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"
)

func newEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	Register(env, &Activities{})
	return env
}

func TestCycleWorkflow_RunsActivitiesThenContinuesAsNew(t *testing.T) {
	env := newEnv(t)

	env.OnActivity(ActivityClusterPass, mock.Anything).
		Return(PassOutput{Created: 1, NewClusterIDs: []string{"c-new"}}, nil)
	env.OnActivity(ActivityEnrichClusters, mock.Anything, EnrichInput{ClusterIDs: []string{"c-new"}, PendingLimit: 20}).
		Return(EnrichOutput{Submitted: 1, Enriched: 1}, nil)
	env.OnActivity(ActivityAnalyzeRecent, mock.Anything, 6).
		Return(AnalyzeOutput{ArticlesAnalyzed: 4}, nil)

	env.ExecuteWorkflow(WorkflowName, CycleInput{
		Interval:     time.Minute,
		CyclesPerRun: 3,
		AnalyzeHours: 6,
		PendingLimit: 20,
	})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	var can *workflow.ContinueAsNewError
	require.True(t, errors.As(err, &can), "expected continue-as-new, got %v", err)
	assert.Equal(t, WorkflowName, can.WorkflowType.Name)

	env.AssertNumberOfCalls(t, ActivityClusterPass, 3)
	env.AssertNumberOfCalls(t, ActivityEnrichClusters, 3)
	env.AssertNumberOfCalls(t, ActivityAnalyzeRecent, 3)
}

func TestCycleWorkflow_ActivityFailureDoesNotStopCycle(t *testing.T) {
	env := newEnv(t)

	env.OnActivity(ActivityClusterPass, mock.Anything).Return(PassOutput{}, errors.New("db down"))
	env.OnActivity(ActivityEnrichClusters, mock.Anything, mock.Anything).Return(EnrichOutput{}, nil)
	env.OnActivity(ActivityAnalyzeRecent, mock.Anything, mock.Anything).Return(AnalyzeOutput{}, nil)

	env.ExecuteWorkflow(WorkflowName, CycleInput{CyclesPerRun: 1})

	require.True(t, env.IsWorkflowCompleted())
	var can *workflow.ContinueAsNewError
	require.True(t, errors.As(env.GetWorkflowError(), &can))
	env.AssertCalled(t, ActivityAnalyzeRecent, mock.Anything, defaultAnalyzeHours)
}

func TestCycleInput_Defaults(t *testing.T) {
	in := CycleInput{}.withDefaults()
	assert.Equal(t, defaultInterval, in.Interval)
	assert.Equal(t, defaultCyclesPerRun, in.CyclesPerRun)
	assert.Equal(t, defaultAnalyzeHours, in.AnalyzeHours)
}
