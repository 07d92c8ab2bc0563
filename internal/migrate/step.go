package migrate

// Step is a named unit of schema change. Steps are immutable once built.
type Step struct {
	name           string
	forward        Action
	backward       Action
	skipOnRollback bool
	expectPrior    string
}

type StepOption func(*Step)

// SkipOnRollback lets a down-run pass over a recorded step that has no
// backward action. The step's effect and its ledger row are left in place.
func SkipOnRollback() StepOption {
	return func(s *Step) { s.skipOnRollback = true }
}

// ExpectPrior requires that the names preceding the step in a path hash to
// fingerprint (see Fingerprint).
func ExpectPrior(fingerprint string) StepOption {
	return func(s *Step) { s.expectPrior = fingerprint }
}

// NewStep builds a reversible step. A nil backward makes it forward-only.
func NewStep(name string, forward, backward Action, opts ...StepOption) Step {
	s := Step{name: name, forward: forward, backward: backward}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func ForwardOnly(name string, forward Action, opts ...StepOption) Step {
	return NewStep(name, forward, nil, opts...)
}

func (s Step) Name() string     { return s.name }
func (s Step) Forward() Action  { return s.forward }
func (s Step) Backward() Action { return s.backward }

func (s Step) Reversible() bool { return s.backward != nil }

func (s Step) SkipsOnRollback() bool { return s.skipOnRollback }

// ExpectedPrior returns the fingerprint set with ExpectPrior, or "".
func (s Step) ExpectedPrior() string { return s.expectPrior }
