// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package classifier

import "fmt"

// Label is a magnet position relative to the device. The set is closed.
type Label int

const (
	None Label = iota // no magnet; the neutral result
	Up
	Down
	Left
	Right
	Front
	Back

	numLabels
)

// Labels lists the positions a classifier can report, without None.
var Labels = []Label{Up, Down, Left, Right, Front, Back}

// Meta is the presentation metadata attached to a label.
type Meta struct {
	Name  string
	Color string // hex RGB
	Icon  string
	// OffsetX/OffsetY place a marker around a device drawn at the origin,
	// screen y pointing down. Front and back use an oblique projection:
	// front towards the lower left, back towards the upper right.
	OffsetX int
	OffsetY int
}

var metaTable = [numLabels]Meta{
	None:  {Name: "none", Color: "#9e9e9e", Icon: "○", OffsetX: 0, OffsetY: 0},
	Up:    {Name: "up", Color: "#43a047", Icon: "▲", OffsetX: 0, OffsetY: -1},
	Down:  {Name: "down", Color: "#e53935", Icon: "▼", OffsetX: 0, OffsetY: 1},
	Left:  {Name: "left", Color: "#1e88e5", Icon: "◀", OffsetX: -1, OffsetY: 0},
	Right: {Name: "right", Color: "#fb8c00", Icon: "▶", OffsetX: 1, OffsetY: 0},
	Front: {Name: "front", Color: "#8e24aa", Icon: "●", OffsetX: -1, OffsetY: 1},
	Back:  {Name: "back", Color: "#6d4c41", Icon: "◎", OffsetX: 1, OffsetY: -1},
}

// Meta returns the presentation metadata for l.
func (l Label) Meta() Meta {
	if l < 0 || l >= numLabels {
		return Meta{Name: fmt.Sprintf("label(%d)", int(l))}
	}
	return metaTable[l]
}

func (l Label) String() string {
	return l.Meta().Name
}

// Valid reports whether l is a member of the label set.
func (l Label) Valid() bool {
	return l >= 0 && l < numLabels
}

// ParseLabel maps a label name back to its Label.
func ParseLabel(s string) (Label, error) {
	for l := None; l < numLabels; l++ {
		if metaTable[l].Name == s {
			return l, nil
		}
	}
	return None, fmt.Errorf("unknown label %q", s)
}

func (l Label) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid label %d", int(l))
	}
	return []byte(l.String()), nil
}

func (l *Label) UnmarshalText(b []byte) error {
	v, err := ParseLabel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}
