// Package buttons models the controller's five-button panel and the sources
// that report which buttons are held.
package buttons

import (
	"strings"
	"sync"
)

// Button is one physical button. Values are single bits so they can be
// combined into a Set.
type Button uint8

const (
	Up Button = 1 << iota
	Down
	Left
	Right
	Center
)

var names = []struct {
	b    Button
	name string
}{
	{Up, "UP"},
	{Down, "DOWN"},
	{Left, "LEFT"},
	{Right, "RIGHT"},
	{Center, "CENTER"},
}

func (b Button) String() string {
	for _, n := range names {
		if n.b == b {
			return n.name
		}
	}
	return "?"
}

// ParseButton maps a name such as "up" or "CENTER" to its Button.
func ParseButton(name string) (Button, bool) {
	for _, n := range names {
		if strings.EqualFold(n.name, name) {
			return n.b, true
		}
	}
	return 0, false
}

// Set is the collection of buttons held at one instant. The zero value is
// the empty set.
type Set uint8

// Of builds a Set from individual buttons.
func Of(bs ...Button) Set {
	var s Set
	for _, b := range bs {
		s |= Set(b)
	}
	return s
}

func (s Set) Has(b Button) bool    { return s&Set(b) != 0 }
func (s Set) With(b Button) Set    { return s | Set(b) }
func (s Set) Without(b Button) Set { return s &^ Set(b) }
func (s Set) Empty() bool          { return s == 0 }

// String renders the held buttons joined by "+", or "-" when none are held.
func (s Set) String() string {
	if s.Empty() {
		return "-"
	}
	var parts []string
	for _, n := range names {
		if s.Has(n.b) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "+")
}

// Source reports the currently held buttons. ok is false when the input
// device could not be read; callers treat that as "no sample" and retry.
type Source interface {
	Sample() (set Set, ok bool)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func() (Set, bool)

func (f SourceFunc) Sample() (Set, bool) { return f() }

// Static is a Source whose state is set explicitly. It is used by tests and
// by the controller when no input hardware is configured.
type Static struct {
	mu          sync.Mutex
	set         Set
	unavailable bool
}

// Press replaces the held set.
func (s *Static) Press(set Set) {
	s.mu.Lock()
	s.set = set
	s.unavailable = false
	s.mu.Unlock()
}

// Release empties the held set.
func (s *Static) Release() { s.Press(0) }

// Unavailable makes Sample report ok=false until the next Press.
func (s *Static) Unavailable() {
	s.mu.Lock()
	s.unavailable = true
	s.mu.Unlock()
}

func (s *Static) Sample() (Set, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return 0, false
	}
	return s.set, true
}
