// Package module implements the load/unload lifecycle for user modules:
// automatic hook revocation on unload, destructor invocation, and the
// capability-restricted Wrapper handed to each module's constructor.
package module

import (
	"github.com/udisondev/l2mitmproxy/internal/dispatch"
	"github.com/udisondev/l2mitmproxy/internal/protocol"
)

// Destructor is implemented by a module instance that needs to release
// resources when unloaded. Implementing it is optional.
type Destructor interface {
	Destroy()
}

// Factory constructs a module instance. It is invoked with a Wrapper
// scoped to that module's name and whatever args the loader was given.
type Factory func(w *Wrapper, args ...string) (any, error)

// Wrapper is the thin, capability-restricted view on a Dispatcher and
// Host that a module's constructor and callbacks see. Every hook it
// registers is tagged with the owning module's name so Host.Unload can
// revoke them in bulk (spec §4.F).
type Wrapper struct {
	host       *Host
	moduleName string
}

// Hook registers spec against the owning Host's Dispatcher, tagging it
// with this module's name regardless of what spec.ModuleName was set to.
func (w *Wrapper) Hook(spec dispatch.HookSpec) *dispatch.Handle {
	spec.ModuleName = w.moduleName
	return w.host.dispatcher.Hook(spec)
}

// Unhook removes a hook previously returned by Hook.
func (w *Wrapper) Unhook(h *dispatch.Handle) {
	w.host.dispatcher.Unhook(h)
}

// Load instantiates another module by name via the process-wide registry,
// or returns the existing instance if name is already loaded.
func (w *Wrapper) Load(name string, args ...string) (any, error) {
	return w.host.Load(name, args...)
}

// Unload revokes name's hooks and runs its destructor, if any.
func (w *Wrapper) Unload(name string) bool {
	return w.host.Unload(name)
}

// ToClient synthesizes name as a fake message and sends it toward the
// game client, running it through the hook chain first (spec §4.E.3).
func (w *Wrapper) ToClient(name string, version protocol.DefinitionVersion, event protocol.Event) error {
	return w.host.dispatcher.Write(true, name, version, event)
}

// ToServer is ToClient's mirror: the fake message is sent toward the
// game server.
func (w *Wrapper) ToServer(name string, version protocol.DefinitionVersion, event protocol.Event) error {
	return w.host.dispatcher.Write(false, name, version, event)
}
