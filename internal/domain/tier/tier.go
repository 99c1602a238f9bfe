// Package tier derives a contractor's performance tier from rolling metrics
// and unifies the legacy numeric (1-5) and letter (A-D) grade ladders into a
// single tagged enum.
package tier

import (
	"fmt"
	"strings"
)

// ID identifies a performance tier. Higher values are better tiers.
type ID int

// Tiers from lowest to highest.
const (
	Bronze ID = iota + 1
	Silver
	Gold
	Platinum
	Diamond
)

// All lists every tier from highest to lowest.
var All = []ID{Diamond, Platinum, Gold, Silver, Bronze}

// mapping is the single source of truth between the enum and the legacy ladders.
var mapping = []struct {
	id     ID
	name   string
	grade  int
	letter string
}{
	{Diamond, "diamond", 1, "A"},
	{Platinum, "platinum", 2, "B"},
	{Gold, "gold", 3, "C"},
	{Silver, "silver", 4, "D"},
	{Bronze, "bronze", 5, "D"},
}

// String returns the canonical lowercase name.
func (id ID) String() string {
	for _, m := range mapping {
		if m.id == id {
			return m.name
		}
	}
	return fmt.Sprintf("tier(%d)", int(id))
}

// Valid reports whether id is a known tier.
func (id ID) Valid() bool { return id >= Bronze && id <= Diamond }

// Grade returns the legacy numeric grade, where 1 is the best.
func (id ID) Grade() int {
	for _, m := range mapping {
		if m.id == id {
			return m.grade
		}
	}
	return 0
}

// Letter returns the legacy letter grade. Silver and Bronze share "D".
func (id ID) Letter() string {
	for _, m := range mapping {
		if m.id == id {
			return m.letter
		}
	}
	return ""
}

// ParseID parses a canonical tier name, case-insensitively.
func ParseID(s string) (ID, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, m := range mapping {
		if m.name == name {
			return m.id, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTier, s)
}

// FromGrade maps a legacy numeric grade (1 best, 5 worst).
func FromGrade(grade int) (ID, error) {
	for _, m := range mapping {
		if m.grade == grade {
			return m.id, nil
		}
	}
	return 0, fmt.Errorf("%w: grade %d", ErrUnknownTier, grade)
}

// FromLetter maps a legacy letter grade. "D" maps to Silver, the better of
// the two tiers that share it.
func FromLetter(letter string) (ID, error) {
	l := strings.ToUpper(strings.TrimSpace(letter))
	for _, m := range mapping {
		if m.letter == l {
			return m.id, nil
		}
	}
	return 0, fmt.Errorf("%w: letter %q", ErrUnknownTier, letter)
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTier, int(id))
	}
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	v, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
