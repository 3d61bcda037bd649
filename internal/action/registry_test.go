package action

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAction struct {
	name      string
	probe     bool
	evalErr   error
	evaluated int
}

func (s *stubAction) Name() string        { return s.name }
func (s *stubAction) Probe(*Env) bool     { return s.probe }
func (s *stubAction) Evaluate(*Env) error {
	s.evaluated++

	return s.evalErr
}

func TestRegistryFiltersBlockedAndUnprobed(t *testing.T) {
	kept := &stubAction{name: "trickle_charge", probe: true}
	blocked := &stubAction{name: "amdgpu_dpm", probe: true}
	notProbed := &stubAction{name: "amdgpu_panel_power", probe: false}

	r := NewRegistry(&Env{}, map[string]bool{"amdgpu_dpm": true}, kept, blocked, notProbed)

	assert.Equal(t, []string{"trickle_charge"}, r.Names())
}

func TestEvaluateAllRunsEveryEnabledAction(t *testing.T) {
	a := &stubAction{name: "a", probe: true}
	b := &stubAction{name: "b", probe: true, evalErr: errors.New("boom")}

	r := NewRegistry(&Env{Logger: nil}, nil, a, b)
	require.Len(t, r.Names(), 2)

	r.EvaluateAll(&Env{})

	assert.Equal(t, 1, a.evaluated)
	assert.Equal(t, 1, b.evaluated)
}
