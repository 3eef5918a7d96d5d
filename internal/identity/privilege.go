package identity

import (
	"fmt"
	"strings"
)

// PrivilegeLevel is a point in the fixed total order
// LOW < MEDIUM < HIGH < SYSTEM < ADMIN.
type PrivilegeLevel int

const (
	// levelUnset is the zero value and never a valid level.
	levelUnset PrivilegeLevel = iota
	Low
	Medium
	High
	System
	Admin
)

var levelNames = map[PrivilegeLevel]string{
	Low:    "LOW",
	Medium: "MEDIUM",
	High:   "HIGH",
	System: "SYSTEM",
	Admin:  "ADMIN",
}

func (l PrivilegeLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("PrivilegeLevel(%d)", int(l))
}

// Valid reports whether l is one of the five defined levels.
func (l PrivilegeLevel) Valid() bool {
	return l >= Low && l <= Admin
}

// ParsePrivilegeLevel accepts the level name in any case.
func ParsePrivilegeLevel(s string) (PrivilegeLevel, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for level, name := range levelNames {
		if name == want {
			return level, nil
		}
	}
	return levelUnset, fmt.Errorf("unknown privilege level %q", s)
}

func (l PrivilegeLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid privilege level %d", int(l))
	}
	return []byte(l.String()), nil
}

func (l *PrivilegeLevel) UnmarshalText(text []byte) error {
	parsed, err := ParsePrivilegeLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Ordering is the result of Compare.
type Ordering int

const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

// Compare orders two levels.
func Compare(a, b PrivilegeLevel) Ordering {
	switch {
	case a < b:
		return Less
	case a > b:
		return Greater
	default:
		return Equal
	}
}

// Meets reports whether caller is at least required. It is the only
// admission rule; invalid levels never meet anything.
func Meets(caller, required PrivilegeLevel) bool {
	if !caller.Valid() || !required.Valid() {
		return false
	}
	return Compare(caller, required) != Less
}
