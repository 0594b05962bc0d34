package coop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGuard struct {
	stopped bool
}

func (g *fakeGuard) Stop() { g.stopped = true }

func TestSetupGuardRejectedOnceStopInProgress(t *testing.T) {
	r := NewStopGuardRepo()
	g1 := &fakeGuard{}
	assert.Equal(t, SetupOK, r.SetupGuard(g1))

	assert.Equal(t, ActionWaitForCompletion, r.InitiateStop())

	g2 := &fakeGuard{}
	assert.Equal(t, SetupStopAlreadyInProgress, r.SetupGuard(g2))
}

func TestInitiateStopCallsEveryGuardAndWaitsForRemoval(t *testing.T) {
	r := NewStopGuardRepo()
	g1, g2 := &fakeGuard{}, &fakeGuard{}
	require.Equal(t, SetupOK, r.SetupGuard(g1))
	require.Equal(t, SetupOK, r.SetupGuard(g2))

	action := r.InitiateStop()
	assert.True(t, g1.stopped)
	assert.True(t, g2.stopped)
	assert.Equal(t, ActionWaitForCompletion, action)

	assert.Equal(t, ActionWaitForCompletion, r.RemoveGuard(g1))
	assert.Equal(t, ActionDoActualStop, r.RemoveGuard(g2), "removing the last outstanding guard must signal do_actual_stop")
}

func TestInitiateStopWithNoGuardsCompletesImmediately(t *testing.T) {
	r := NewStopGuardRepo()
	assert.Equal(t, ActionDoActualStop, r.InitiateStop())
}

func TestRemoveGuardBeforeStopIsNoop(t *testing.T) {
	r := NewStopGuardRepo()
	g1 := &fakeGuard{}
	r.SetupGuard(g1)
	assert.Equal(t, ActionDoNothing, r.RemoveGuard(g1))
}
