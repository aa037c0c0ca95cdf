// Package strategy names the reversal rules a run applies.
package strategy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknown is returned by Parse for a name that is not a strategy.
var ErrUnknown = errors.New("unknown strategy")

// Kind is one reversal rule.
type Kind int

const (
	// GeometryStrip turns filled redaction rectangles into outlines.
	GeometryStrip Kind = iota
	// AnnotationSuppress hides popup and stamp annotations and reports the rest.
	AnnotationSuppress
	// ImageBlank whites out near-uniform images.
	ImageBlank

	numKinds
)

var kindNames = [numKinds]string{"rect", "annotation", "image"}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

var kindDescriptions = [numKinds]string{
	"turn filled redaction rectangles into outlines",
	"hide popup and stamp annotations, report the rest",
	"white out near-uniform images",
}

// Description is a one-line summary of what the strategy does.
func (k Kind) Description() string {
	if k < 0 || k >= numKinds {
		return ""
	}
	return kindDescriptions[k]
}

// All lists every strategy in declaration order.
func All() []Kind {
	out := make([]Kind, numKinds)
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

// Set is an immutable set of strategies. The zero value is empty.
type Set struct {
	bits [numKinds]bool
}

// Parse builds a set from strategy names. Names are case-insensitive and
// may repeat; order does not matter.
func Parse(names ...string) (Set, error) {
	var s Set
	for _, name := range names {
		k, ok := lookup(name)
		if !ok {
			return Set{}, fmt.Errorf("%w: %q (want one of %s)", ErrUnknown, name, strings.Join(kindNames[:], ", "))
		}
		s.bits[k] = true
	}
	return s, nil
}

// Of builds a set from kinds.
func Of(kinds ...Kind) Set {
	var s Set
	for _, k := range kinds {
		if k >= 0 && k < numKinds {
			s.bits[k] = true
		}
	}
	return s
}

func lookup(name string) (Kind, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range kindNames {
		if n == name {
			return Kind(i), true
		}
	}
	return 0, false
}

func (s Set) Has(k Kind) bool {
	return k >= 0 && k < numKinds && s.bits[k]
}

func (s Set) GeometryStrip() bool      { return s.bits[GeometryStrip] }
func (s Set) AnnotationSuppress() bool { return s.bits[AnnotationSuppress] }
func (s Set) ImageBlank() bool         { return s.bits[ImageBlank] }

func (s Set) Empty() bool { return s == Set{} }

// Names returns the member names in declaration order.
func (s Set) Names() []string {
	var out []string
	for i, on := range s.bits {
		if on {
			out = append(out, kindNames[i])
		}
	}
	return out
}

func (s Set) String() string {
	if s.Empty() {
		return "none"
	}
	return strings.Join(s.Names(), ",")
}
