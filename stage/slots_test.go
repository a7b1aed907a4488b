package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSlots(t *testing.T) {
	s := NewSlots()
	assert.Equal(t, []int{0}, s.Selected())

	for i := 1; i < MaxSlots; i++ {
		sl, err := s.Slot(i)
		require.NoError(t, err)
		assert.False(t, sl.Selected, "slot %d", i)
	}
}

func TestSlotsAdd(t *testing.T) {
	s := NewSlots()

	for want := 1; want < MaxSlots; want++ {
		i, ok := s.Add()
		require.True(t, ok)
		assert.Equal(t, want, i)
	}

	_, ok := s.Add()
	assert.False(t, ok, "all slots selected")
	assert.Len(t, s.Selected(), MaxSlots)
}

func TestSlotsAddFillsGaps(t *testing.T) {
	s := NewSlots()
	s.Add()
	s.Add()
	require.NoError(t, s.Remove(1))
	assert.Equal(t, []int{0, 2}, s.Selected())

	i, ok := s.Add()
	require.True(t, ok)
	assert.Equal(t, 1, i)
}

func TestSlotsRemove(t *testing.T) {
	s := NewSlots()
	i, _ := s.Add()
	require.NoError(t, s.Set(0, "/World/Cube", "Gold"))
	require.NoError(t, s.Set(i, "/World/Sphere", "Oak"))

	require.NoError(t, s.Remove(0))
	sl, _ := s.Slot(0)
	assert.Equal(t, Slot{}, sl)
	assert.Equal(t, []int{1}, s.Selected())

	t.Run("last selected slot stays selected", func(t *testing.T) {
		require.NoError(t, s.Remove(1))
		sl, _ := s.Slot(1)
		assert.Equal(t, Slot{Selected: true}, sl)
		assert.Equal(t, []int{1}, s.Selected())
	})
}

func TestSlotsRange(t *testing.T) {
	s := NewSlots()
	for _, i := range []int{-1, MaxSlots} {
		assert.ErrorIs(t, s.Set(i, "/A", "m"), ErrSlotRange)
		assert.ErrorIs(t, s.Remove(i), ErrSlotRange)
		_, err := s.Slot(i)
		assert.ErrorIs(t, err, ErrSlotRange)
	}
}

func TestMeshChoices(t *testing.T) {
	assert.Nil(t, MeshChoices(nil))
	assert.Equal(t, []string{""}, MeshChoices(New()))
	assert.Equal(t, []string{"", "/World/Cube", "/World/Sphere"}, MeshChoices(loadTestStage(t)))
}
