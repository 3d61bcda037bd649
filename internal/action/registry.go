package action

// Registry probes candidate actions once at start and keeps the ones
// that apply to this host, minus any blocked by name.
type Registry struct {
	actions []Action
}

// NewRegistry probes candidates, excluding any name present in
// blocked (the --block-action flag).
func NewRegistry(env *Env, blocked map[string]bool, candidates ...Action) *Registry {
	r := &Registry{}

	for _, a := range candidates {
		if blocked[a.Name()] {
			continue
		}

		if a.Probe(env) {
			r.actions = append(r.actions, a)
		}
	}

	return r
}

// Names returns the enabled action identifiers, in probe order, as
// published on the Actions property.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.actions))
	for _, a := range r.actions {
		names = append(names, a.Name())
	}

	return names
}

// EvaluateAll re-evaluates every enabled action against env.
func (r *Registry) EvaluateAll(env *Env) {
	for _, a := range r.actions {
		if err := a.Evaluate(env); err != nil && env.Logger != nil {
			env.Logger.Warn("action evaluate failed", "action", a.Name(), "err", err)
		}
	}
}
