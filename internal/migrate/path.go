package migrate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Path is an ordered sequence of steps. The zero value is the empty path.
// Methods never modify the receiver.
type Path struct {
	steps []Step
}

func NewPath(steps ...Step) Path {
	return Path{steps: append([]Step(nil), steps...)}
}

// Append returns a new path with steps added after p's steps.
func (p Path) Append(steps ...Step) Path {
	out := make([]Step, 0, len(p.steps)+len(steps))
	out = append(out, p.steps...)
	out = append(out, steps...)
	return Path{steps: out}
}

// Then returns p followed by next.
func (p Path) Then(next Path) Path {
	return p.Append(next.steps...)
}

// Concat joins paths left to right.
func Concat(paths ...Path) Path {
	var out Path
	for _, p := range paths {
		out = out.Then(p)
	}
	return out
}

func (p Path) Len() int { return len(p.steps) }

// Forward returns the steps in declared order.
func (p Path) Forward() []Step {
	return append([]Step(nil), p.steps...)
}

// Backward returns the steps in reverse declared order.
func (p Path) Backward() []Step {
	out := make([]Step, len(p.steps))
	for i, s := range p.steps {
		out[len(p.steps)-1-i] = s
	}
	return out
}

func (p Path) Names() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.name
	}
	return names
}

// Reversible reports whether any step in p has a backward action.
func (p Path) Reversible() bool {
	for _, s := range p.steps {
		if s.Reversible() {
			return true
		}
	}
	return false
}

// Duplicates returns names that occur more than once, in order of their
// second occurrence.
func (p Path) Duplicates() []string {
	seen := make(map[string]int, len(p.steps))
	var dups []string
	for _, s := range p.steps {
		seen[s.name]++
		if seen[s.name] == 2 {
			dups = append(dups, s.name)
		}
	}
	return dups
}

// Validate checks every ExpectPrior precondition against the names that
// precede the step in p.
func (p Path) Validate() error {
	for i, s := range p.steps {
		if s.expectPrior == "" {
			continue
		}
		got := Fingerprint(p.Names()[:i]...)
		if got != s.expectPrior {
			return newError(s.name, "validate", ErrPrecondition,
				fmt.Errorf("prior fingerprint %s, expected %s", got, s.expectPrior))
		}
	}
	return nil
}

// Fingerprint hashes an ordered list of step names. Names are length
// prefixed so that ("ab","c") and ("a","bc") differ.
func Fingerprint(names ...string) string {
	h := sha256.New()
	for _, n := range names {
		fmt.Fprintf(h, "%d:%s;", len(n), n)
	}
	return hex.EncodeToString(h.Sum(nil))
}
