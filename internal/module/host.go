package module

import (
	"fmt"
	"log/slog"

	"github.com/udisondev/l2mitmproxy/internal/dispatch"
)

// Record is the bookkeeping Host keeps per loaded module.
type Record struct {
	Name     string
	Instance any
}

// Host owns the module lifecycle for one Dispatcher: load/unload/reset,
// automatic hook revocation, and destructor invocation (spec §4.F). One
// Host belongs to exactly one Dispatcher, exactly as one Dispatcher
// belongs to exactly one Connection.
type Host struct {
	dispatcher *dispatch.Dispatcher
	modules    map[string]*Record
	logger     *slog.Logger
}

// NewHost creates a Host bound to dispatcher.
func NewHost(dispatcher *dispatch.Dispatcher, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		dispatcher: dispatcher,
		modules:    make(map[string]*Record),
		logger:     logger,
	}
}

// Load instantiates name via the process-wide factory registry
// (Register/Lookup), passing args through. A module already loaded
// returns its existing instance instead of constructing a second one.
func (h *Host) Load(name string, args ...string) (any, error) {
	if rec, ok := h.modules[name]; ok {
		return rec.Instance, nil
	}
	factory, ok := Lookup(name)
	if !ok {
		err := fmt.Errorf("module: no factory registered for %q", name)
		h.logger.Error("module load failed", "name", name, "err", err)
		return nil, err
	}
	return h.construct(name, factory, args...)
}

// LoadWith is Load with an explicit factory instead of one resolved from
// the process-wide registry — the statically-typed form of spec §4.F's
// "load(name, loader, ...args)".
func (h *Host) LoadWith(name string, factory Factory, args ...string) (any, error) {
	if rec, ok := h.modules[name]; ok {
		return rec.Instance, nil
	}
	return h.construct(name, factory, args...)
}

func (h *Host) construct(name string, factory Factory, args ...string) (instance any, err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("module constructor panicked", "name", name, "panic", r)
			instance, err = nil, fmt.Errorf("module: constructing %q panicked: %v", name, r)
		}
	}()

	w := &Wrapper{host: h, moduleName: name}
	instance, err = factory(w, args...)
	if err != nil {
		h.logger.Error("module constructor failed", "name", name, "err", err)
		return nil, err
	}

	h.modules[name] = &Record{Name: name, Instance: instance}
	return instance, nil
}

// Unload revokes every hook tagged with name, invokes its destructor if
// it has one, and drops the record. Reports whether name was loaded.
func (h *Host) Unload(name string) bool {
	rec, ok := h.modules[name]
	if !ok {
		return false
	}

	h.dispatcher.RevokeModule(name)
	if d, ok := rec.Instance.(Destructor); ok {
		h.destroy(name, d)
	}
	delete(h.modules, name)
	return true
}

func (h *Host) destroy(name string, d Destructor) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("module destructor panicked", "name", name, "panic", r)
		}
	}()
	d.Destroy()
}

// Reset unloads every loaded module, in arbitrary order, revoking each
// module's hooks — used when a Connection tears down. Hooks registered
// directly on the Dispatcher, outside any module, are not removed.
func (h *Host) Reset() {
	for name := range h.modules {
		h.Unload(name)
	}
}

// Loaded reports whether name currently has a live instance.
func (h *Host) Loaded(name string) bool {
	_, ok := h.modules[name]
	return ok
}
