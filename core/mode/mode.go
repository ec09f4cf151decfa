// Package mode models permission sets as bitmasks over an explicit
// enumeration of operations and resolves the effective mode of a caller.
package mode

import (
	"fmt"
	"strings"
)

// Op is a single permitted operation.
type Op uint16

const (
	Create Op = 1 << iota
	Read
	Search
	Update
	Delete
	Batch
	Clone
	Import
	Export
)

// All is every operation.
const All Mode = Mode(Create | Read | Search | Update | Delete | Batch | Clone | Import | Export)

// opChars maps each operation to its declaration character, in canonical order.
var opChars = []struct {
	op Op
	ch byte
}{
	{Create, 'c'},
	{Read, 'r'},
	{Search, 's'},
	{Update, 'u'},
	{Delete, 'd'},
	{Batch, 'b'},
	{Clone, 'o'},
	{Import, 'i'},
	{Export, 'e'},
}

// String returns the declaration character of the operation.
func (o Op) String() string {
	for _, oc := range opChars {
		if oc.op == o {
			return string(oc.ch)
		}
	}
	return fmt.Sprintf("Op(%d)", uint16(o))
}

// Mode is a set of operations.
type Mode uint16

// Has reports whether op is in the set.
func (m Mode) Has(op Op) bool {
	return m&Mode(op) != 0
}

// Intersect returns the operations present in both sets.
func (m Mode) Intersect(other Mode) Mode {
	return m & other
}

// Empty reports whether the set has no operations.
func (m Mode) Empty() bool {
	return m == 0
}

// String renders the set in canonical character order, e.g. "crsud".
func (m Mode) String() string {
	var b strings.Builder
	for _, oc := range opChars {
		if m.Has(oc.op) {
			b.WriteByte(oc.ch)
		}
	}
	return b.String()
}

// MarshalText renders the mode as its character string.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Parse parses a declared permission string. "*" grants everything.
// Unknown characters are an error.
func Parse(s string) (Mode, error) {
	var m Mode
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '*' {
			m |= All
			continue
		}
		op, ok := opForChar(c)
		if !ok {
			return 0, fmt.Errorf("unknown permission %q in mode %q", c, s)
		}
		m |= Mode(op)
	}
	return m, nil
}

// ParseLenient parses a client-requested mode string. Unknown characters
// are ignored: a client request can only narrow, so they carry no meaning.
func ParseLenient(s string) Mode {
	var m Mode
	for i := 0; i < len(s); i++ {
		if s[i] == '*' {
			m |= All
			continue
		}
		if op, ok := opForChar(s[i]); ok {
			m |= Mode(op)
		}
	}
	return m
}

func opForChar(c byte) (Op, bool) {
	for _, oc := range opChars {
		if oc.ch == c {
			return oc.op, true
		}
	}
	return 0, false
}
