// Package dispatch implements the per-opcode hook registry and the
// message dispatcher that drives it: registration, filtering, mutation
// tracking, and silencing.
package dispatch

import (
	"github.com/udisondev/l2mitmproxy/internal/constants"
	"github.com/udisondev/l2mitmproxy/internal/protocol"
)

// Code identifies which opcode a Hook is bound to. Real wire opcodes are
// non-negative (0..65535); Any and Unknown are out-of-band sentinels a
// uint16 cannot represent on its own (spec §3).
type Code int32

const (
	// Any matches every opcode; stored under the registry's "*" key.
	Any Code = constants.AnyOpcode
	// Unknown is where hooks land when their message name didn't resolve
	// against the codec. They are kept (so unload/cleanup stays
	// consistent) but never fire, since no message ever carries this code.
	Unknown Code = constants.UnknownOpcode
)

// WireCode converts a decoded opcode into a Code.
func WireCode(opcode uint16) Code { return Code(opcode) }

// Filter is a tri-state predicate over a message's direction flags. A nil
// field means "don't care"; a non-nil field must match the flag's current
// value for the hook to fire.
type Filter struct {
	Fake     *bool
	Incoming *bool
	Modified *bool
	Silenced *bool
}

func boolPtr(v bool) *bool { return &v }

// DefaultFilter is the filter createHook applies when the caller doesn't
// supply one: skip fake/synthesized messages, skip already-silenced ones,
// don't care about direction or prior mutation.
func DefaultFilter() Filter {
	return Filter{Fake: boolPtr(false), Silenced: boolPtr(false)}
}

// matches reports whether the filter accepts a message with the given
// direction flags.
func (f Filter) matches(fake, incoming, modified, silenced bool) bool {
	if f.Fake != nil && *f.Fake != fake {
		return false
	}
	if f.Incoming != nil && *f.Incoming != incoming {
		return false
	}
	if f.Modified != nil && *f.Modified != modified {
		return false
	}
	if f.Silenced != nil && *f.Silenced != silenced {
		return false
	}
	return true
}

// HookContext is the read-only snapshot of direction flags passed to a
// parsed hook alongside its event (spec §9: "pass a HookContext value
// alongside the buffer/event").
type HookContext struct {
	Fake     bool
	Incoming bool
	Modified bool
	Silenced bool
}

// RawOutcome is what a raw hook callback returns. At most one of Data or
// Silence should be set; a callback that wants no effect beyond side
// effects on its own state returns RawOutcome{}.
type RawOutcome struct {
	// Data, if non-nil, replaces the message buffer. Modified is set if
	// its content differs from what the hook was given.
	Data []byte
	// Silence, if non-nil, sets (false) or clears (true) the silenced
	// flag explicitly — mirrors the source's overloaded boolean return.
	Silence *bool
}

// Mutate returns a RawOutcome that replaces the buffer with data.
func Mutate(data []byte) RawOutcome { return RawOutcome{Data: data} }

// Silence returns a RawOutcome that silences the message.
func Silence() RawOutcome { return RawOutcome{Silence: boolPtr(false)} }

// Unsilence returns a RawOutcome that clears a prior silencing.
func Unsilence() RawOutcome { return RawOutcome{Silence: boolPtr(true)} }

// RawHookFunc is the callback shape for a hook with DefinitionVersion ==
// protocol.VersionRaw: it sees the opaque wire buffer, not a parsed event.
type RawHookFunc func(code Code, data []byte, incoming, fake bool) RawOutcome

// ParsedHookFunc is the callback shape for every other hook. event is
// mutated in place by the callback (it is a reference type); the boolean
// return controls silencing exactly like RawOutcome.Silence: false
// silences, true un-silences.
type ParsedHookFunc func(ctx HookContext, event protocol.Event) bool

// Hook is a single registered (or queued) callback.
type Hook struct {
	// Name is the canonical, normalized message name this hook was
	// registered against. Used to re-resolve Code once the protocol
	// version becomes known (spec §4.E.1/§4.E.4, scenario S6).
	Name string
	// Code is the opcode this hook currently fires for. Any for a
	// wildcard hook, Unknown until/unless Name resolves.
	Code Code
	// Filter gates which messages this hook is offered.
	Filter Filter
	// Order controls this hook's position in the merged iteration
	// (lower fires first; ties broken by registration order, with
	// globals preceding specifics — see Registry).
	Order int32
	// DefinitionVersion selects the schema used to parse/write the
	// event for this hook. protocol.VersionRaw marks a raw hook.
	DefinitionVersion protocol.DefinitionVersion
	// ModuleName tags the owning module for bulk revocation on unload.
	// Empty for hooks registered outside any module.
	ModuleName string

	Raw    RawHookFunc
	Parsed ParsedHookFunc
}

// IsRaw reports whether this hook receives raw buffers instead of parsed
// events.
func (h *Hook) IsRaw() bool { return h.DefinitionVersion == protocol.VersionRaw }

// HookGroup is every hook sharing one Order value under one Code.
type HookGroup struct {
	Order int32
	Hooks []*Hook
}
