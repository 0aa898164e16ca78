package msc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMSC(t *testing.T) *MSC {
	t.Helper()
	storage := NewMemoryStorage(64*1024, 512)
	return New(storage, "gobbb   ", "Virtual Disk    ", "1.0")
}

func TestNew_StartsWithNoSense(t *testing.T) {
	m := newTestMSC(t)
	assert.True(t, m.sense.good())
	assert.Equal(t, uint8(0), m.maxLUN)
}

func TestSetMaxLUN(t *testing.T) {
	m := newTestMSC(t)

	m.SetMaxLUN(4)
	assert.Equal(t, uint8(4), m.maxLUN)

	m.SetMaxLUN(16) // out of range, 0-15 only
	assert.Equal(t, uint8(4), m.maxLUN, "out-of-range value must be rejected, not clamped or wrapped")
}

func TestHandleReset_ClearsSenseTransferAndHalted(t *testing.T) {
	m := newTestMSC(t)

	m.setSense(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
	m.transfer.phase = PhaseHalted
	m.transfer.halted = true
	m.transfer.tag = 99

	handled, err := m.handleReset(nil)

	require.NoError(t, err)
	assert.True(t, handled)
	assert.True(t, m.sense.good())
	assert.Equal(t, PhaseCommand, m.transfer.phase)
	assert.Equal(t, uint32(0), m.transfer.tag)
	assert.False(t, m.transfer.halted, "reset is the only path that clears halted")
}

func TestHandleGetMaxLUN_WritesCurrentValue(t *testing.T) {
	m := newTestMSC(t)
	m.SetMaxLUN(3)

	buf := make([]byte, 1)
	handled, err := m.handleGetMaxLUN(nil, buf)

	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, uint8(3), buf[0])
}

func TestSetSense_DelegatesToSenseData(t *testing.T) {
	m := newTestMSC(t)

	m.setSense(SenseMediumError, ASCLBAOutOfRange, 1)

	key, asc, ascq := m.sense.triple()
	assert.Equal(t, uint8(SenseMediumError), key)
	assert.Equal(t, uint8(ASCLBAOutOfRange), asc)
	assert.Equal(t, uint8(1), ascq)
}
