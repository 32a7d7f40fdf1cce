package scripting_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/udkimport/internal/scripting"
)

func TestNewSandbox_UnsafeLibsNil(t *testing.T) {
	s := scripting.NewSandbox(0)
	require.NotNil(t, s)
	defer s.Close()
	for _, name := range []string{"os", "io", "debug"} {
		assert.Equal(t, lua.LNil, s.L.GetGlobal(name), "expected %s to be nil", name)
	}
}

func TestNewSandbox_DangerousGlobalsNil(t *testing.T) {
	s := scripting.NewSandbox(0)
	defer s.Close()
	for _, name := range []string{"dofile", "loadfile", "load", "collectgarbage", "require"} {
		assert.Equal(t, lua.LNil, s.L.GetGlobal(name), "expected %s to be nil", name)
	}
}

func TestNewSandbox_SafeLibsAvailable(t *testing.T) {
	s := scripting.NewSandbox(0)
	defer s.Close()
	err := s.DoString(`
		local x = math.sqrt(4)
		assert(x == 2.0, "math.sqrt failed")
		local s = string.upper("hello")
		assert(s == "HELLO", "string.upper failed")
	`)
	assert.NoError(t, err)
}

func TestSandbox_InstructionLimitExceeded(t *testing.T) {
	s := scripting.NewSandbox(10)
	defer s.Close()
	assert.Error(t, s.DoString(`while true do end`), "expected instruction limit error")
}

func TestSandbox_BudgetIsPerExecution(t *testing.T) {
	s := scripting.NewSandbox(200)
	defer s.Close()
	for i := 0; i < 20; i++ {
		require.NoError(t, s.DoString(`local x = 1 + 1`), "run %d", i)
	}
}

func TestProperty_InstructionLimitAlwaysErrors(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(1, 50).Draw(t, "limit")
		s := scripting.NewSandbox(limit)
		defer s.Close()
		if err := s.DoString(`while true do end`); err == nil {
			t.Fatalf("expected error with limit=%d but got nil", limit)
		}
	})
}
