package stage

import (
	"errors"
	"fmt"
)

// MaxSlots is the number of mesh/material assignment slots.
const MaxSlots = 10

// ErrSlotRange indicates a slot index outside [0, MaxSlots).
var ErrSlotRange = errors.New("stage: slot index out of range")

// Slot assigns a material to a mesh. An empty Mesh is skipped by Assign;
// an empty Material unbinds the mesh.
type Slot struct {
	Selected bool   `json:"selected"`
	Mesh     string `json:"mesh,omitempty"`
	Material string `json:"material,omitempty"`
}

// Slots is the fixed list of assignment slots. Slot 0 starts selected and
// at least one slot always stays selected.
type Slots struct {
	slots [MaxSlots]Slot
}

// NewSlots returns slots with only slot 0 selected.
func NewSlots() *Slots {
	s := &Slots{}
	s.slots[0].Selected = true
	return s
}

// Add selects the first unselected slot and returns its index. It returns
// false when every slot is already selected.
func (s *Slots) Add() (int, bool) {
	for i := range s.slots {
		if !s.slots[i].Selected {
			s.slots[i].Selected = true
			return i, true
		}
	}
	return 0, false
}

// Remove clears slot i and deselects it, unless it is the only selected slot.
func (s *Slots) Remove(i int) error {
	if err := checkSlot(i); err != nil {
		return err
	}
	s.slots[i].Mesh = ""
	s.slots[i].Material = ""
	if len(s.Selected()) > 1 {
		s.slots[i].Selected = false
	}
	return nil
}

// Set stores the mesh path and material of slot i.
func (s *Slots) Set(i int, mesh, material string) error {
	if err := checkSlot(i); err != nil {
		return err
	}
	s.slots[i].Mesh = mesh
	s.slots[i].Material = material
	return nil
}

// Selected returns the indices of the selected slots in order.
func (s *Slots) Selected() []int {
	var out []int
	for i, sl := range s.slots {
		if sl.Selected {
			out = append(out, i)
		}
	}
	return out
}

// Slot returns slot i.
func (s *Slots) Slot(i int) (Slot, error) {
	if err := checkSlot(i); err != nil {
		return Slot{}, err
	}
	return s.slots[i], nil
}

func checkSlot(i int) error {
	if i < 0 || i >= MaxSlots {
		return fmt.Errorf("%w: %d", ErrSlotRange, i)
	}
	return nil
}

// MeshChoices returns the values offered for a slot's mesh: "" (none)
// followed by every Mesh prim path of st in traversal order. A nil stage
// offers nothing.
func MeshChoices(st *Stage) []string {
	if st == nil {
		return nil
	}
	choices := []string{""}
	for _, m := range st.Meshes() {
		choices = append(choices, m.Path)
	}
	return choices
}
