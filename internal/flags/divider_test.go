package flags

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDividerEveryN(t *testing.T) {
	b := NewBridge()
	d := NewDivider(b, LogTick, 3)

	d.Tick()
	d.Tick()
	assert.False(t, b.Pending(LogTick))
	d.Tick()
	assert.True(t, b.Take(LogTick))

	for i := 0; i < 3; i++ {
		d.Tick()
	}
	assert.True(t, b.Take(LogTick))
}

func TestDividerReset(t *testing.T) {
	b := NewBridge()
	d := NewDivider(b, LogTick, 2)
	d.Tick()
	d.Reset()
	d.Tick()
	assert.False(t, b.Pending(LogTick))
	d.Tick()
	assert.True(t, b.Pending(LogTick))
}

func TestDividerMinimum(t *testing.T) {
	b := NewBridge()
	d := NewDivider(b, LogTick, 0)
	d.Tick()
	assert.True(t, b.Pending(LogTick))
}
