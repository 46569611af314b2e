package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_DuplicateNamePanics(t *testing.T) {
	r := New(Server)
	r.Register(&Descriptor{Name: "StateGet", HasResponse: true})

	assert.Panics(t, func() {
		r.Register(&Descriptor{Name: "StateGet", HasResponse: true})
	})
}

func TestRegister_EmptyNamePanics(t *testing.T) {
	r := New(Server)
	assert.Panics(t, func() {
		r.Register(&Descriptor{Name: "", HasResponse: true})
	})
}

func TestRegistry_ServerAndUITargetsAreIndependent(t *testing.T) {
	serverReg := New(Server)
	uiReg := New(UI)

	serverReg.Register(&Descriptor{Name: "SimRun", Mutates: true, HasResponse: true})
	uiReg.Register(&Descriptor{Name: "SimRun", Mutates: false, HasResponse: true})

	sd, ok := serverReg.Lookup("SimRun")
	require.True(t, ok)
	assert.True(t, sd.Mutates)

	ud, ok := uiReg.Lookup("SimRun")
	require.True(t, ok)
	assert.False(t, ud.Mutates)
}

func TestRegistry_LookupMiss(t *testing.T) {
	r := New(Server)
	_, ok := r.Lookup("DoesNotExist")
	assert.False(t, ok)
}

func TestRegistry_Names(t *testing.T) {
	r := New(Server)
	r.Register(&Descriptor{Name: "A", HasResponse: true})
	r.Register(&Descriptor{Name: "B", HasResponse: true})

	assert.ElementsMatch(t, []string{"A", "B"}, r.Names())
}
