package health

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManagerAggregation(t *testing.T) {
	m := NewManager(nil)

	// No checks registered means healthy.
	assert.True(t, m.IsHealthy())

	m.Register("exchange", func() error { return nil })
	assert.True(t, m.IsHealthy())

	m.Register("engine", func() error { return fmt.Errorf("tick stale") })
	assert.False(t, m.IsHealthy())

	status := m.Status()
	assert.Equal(t, "healthy", status["exchange"])
	assert.Equal(t, "unhealthy: tick stale", status["engine"])
}

func TestManagerReplacesCheck(t *testing.T) {
	m := NewManager(nil)
	m.Register("engine", func() error { return fmt.Errorf("down") })
	assert.False(t, m.IsHealthy())

	m.Register("engine", func() error { return nil })
	assert.True(t, m.IsHealthy())
}
