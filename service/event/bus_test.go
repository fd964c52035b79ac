package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_Notify(t *testing.T) {
	bus := NewBus()
	first := bus.Watch("run_1")
	second := bus.Watch("run_1")
	other := bus.Watch("run_2")
	assert.Equal(t, 2, bus.Len("run_1"))

	bus.Notify("run_1")
	bus.Notify("run_1")

	assert.Len(t, first.C, 1)
	assert.Len(t, second.C, 1)
	assert.Len(t, other.C, 0)

	first.Stop()
	first.Stop()
	second.Stop()
	assert.Equal(t, 0, bus.Len("run_1"))
	other.Stop()
	assert.Equal(t, 0, bus.Len("run_2"))
}
