package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusDefaultsToActive(t *testing.T) {
	s := NewStatus()

	assert.False(t, s.Degraded())
	assert.Equal(t, StateActive, s.Get(ComponentConfig).State)
	assert.Equal(t, StateActive, s.Get(ComponentProbes).State)
	assert.Equal(t, StateActive, s.Get(ComponentPublish).State)
}

func TestStatusBlockedAndRecovered(t *testing.T) {
	s := NewStatus()

	s.SetBlocked(ComponentConfig, "config file is invalid")
	assert.True(t, s.Degraded())
	assert.Equal(t, StateBlocked, s.Get(ComponentConfig).State)
	assert.Equal(t, "config file is invalid", s.Get(ComponentConfig).Message)

	s.SetActive(ComponentConfig)
	assert.False(t, s.Degraded())
	assert.Empty(t, s.Get(ComponentConfig).Message)
}

func TestStatusSnapshotIsACopy(t *testing.T) {
	s := NewStatus()
	snapshot := s.Snapshot()

	snapshot[ComponentConfig] = ComponentStatus{State: StateBlocked}
	assert.Equal(t, StateActive, s.Get(ComponentConfig).State)
}
