package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/udkimport/internal/importer/mapping"
)

// Hook names looked up as Lua globals.
const (
	HookTargetPath = "target_path"
	HookMapClass   = "map_class"
)

// Manager owns one sandboxed VM holding the mapping scripts and exposes its
// hooks as a mapping.Mapper.
//
// Manager is safe for concurrent use; calls into the VM are serialized.
type Manager struct {
	mu      sync.Mutex
	sandbox *Sandbox
	logger  *zap.Logger
}

// NewManager creates a Manager with no scripts loaded.
//
// Precondition: logger must be non-nil.
// Postcondition: Returns a non-nil Manager; every hook is a no-op until Load.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger}
}

// Load creates a sandboxed VM, registers the engine.* modules, then
// executes every *.lua file in scriptDir in lexicographic order. A
// previously loaded VM is replaced.
//
// Precondition: scriptDir must be a readable directory.
// Postcondition: the VM is registered; returns error on Lua load failure.
func (m *Manager) Load(scriptDir string, instLimit int) error {
	entries, err := os.ReadDir(scriptDir)
	if err != nil {
		return fmt.Errorf("scripting: reading script dir %q: %w", scriptDir, err)
	}
	var luaFiles []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			luaFiles = append(luaFiles, filepath.Join(scriptDir, e.Name()))
		}
	}
	sort.Strings(luaFiles)

	s := NewSandbox(instLimit)
	m.RegisterModules(s.L)
	for _, path := range luaFiles {
		if err := s.DoFile(path); err != nil {
			s.Close()
			return fmt.Errorf("scripting: loading %q: %w", path, err)
		}
	}
	m.install(s)
	m.logger.Info("scripting: mapping scripts loaded",
		zap.String("dir", scriptDir),
		zap.Int("files", len(luaFiles)),
	)
	return nil
}

// LoadString is Load for a single in-memory chunk.
func (m *Manager) LoadString(name, src string, instLimit int) error {
	s := NewSandbox(instLimit)
	m.RegisterModules(s.L)
	if err := s.DoString(src); err != nil {
		s.Close()
		return fmt.Errorf("scripting: loading %q: %w", name, err)
	}
	m.install(s)
	return nil
}

func (m *Manager) install(s *Sandbox) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sandbox != nil {
		m.sandbox.Close()
	}
	m.sandbox = s
}

// Close releases the VM.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sandbox != nil {
		m.sandbox.Close()
		m.sandbox = nil
	}
}

// CallHook calls the named Lua global function. Returns LNil if the hook is
// not defined or nothing is loaded. Lua runtime errors, including an
// exhausted instruction budget, are logged at Warn level and never
// propagated.
//
// Precondition: args must be valid lua.LValue instances.
// Postcondition: Returns the first return value of the hook, or LNil.
func (m *Manager) CallHook(hook string, args ...lua.LValue) lua.LValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sandbox == nil {
		return lua.LNil
	}

	fn := m.sandbox.L.GetGlobal(hook)
	if fn == lua.LNil {
		return lua.LNil
	}

	ret := lua.LValue(lua.LNil)
	err := m.sandbox.Do(func(L *lua.LState) error {
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
			return err
		}
		ret = L.Get(-1)
		L.Pop(1)
		return nil
	})
	if err != nil {
		m.logger.Warn("scripting: Lua runtime error",
			zap.String("hook", hook),
			zap.Error(err),
		)
		return lua.LNil
	}
	return ret
}

// TargetPath calls target_path(legacy_path, class). The hook may return a
// path string, a table {path=..., kind=...}, or nil for no match. Paths must
// be absolute.
func (m *Manager) TargetPath(legacyPath, class string) (mapping.Target, bool) {
	ret := m.CallHook(HookTargetPath, lua.LString(legacyPath), lua.LString(class))
	var t mapping.Target
	switch v := ret.(type) {
	case lua.LString:
		t.Path = string(v)
	case *lua.LTable:
		t.Path = lua.LVAsString(v.RawGetString("path"))
		t.Kind = lua.LVAsString(v.RawGetString("kind"))
	default:
		if ret != lua.LNil {
			m.logger.Warn("scripting: target_path returned unexpected type",
				zap.String("legacy_path", legacyPath),
				zap.String("type", ret.Type().String()),
			)
		}
		return mapping.Target{}, false
	}
	if !strings.HasPrefix(t.Path, "/") {
		m.logger.Warn("scripting: target_path returned a relative path",
			zap.String("legacy_path", legacyPath),
			zap.String("path", t.Path),
		)
		return mapping.Target{}, false
	}
	return t, true
}

// TargetClass calls map_class(legacy_class). A nil or empty result is no
// match.
func (m *Manager) TargetClass(legacyClass string) (string, bool) {
	ret := m.CallHook(HookMapClass, lua.LString(legacyClass))
	s, ok := ret.(lua.LString)
	if !ok || s == "" {
		return "", false
	}
	return string(s), true
}
