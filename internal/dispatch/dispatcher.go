package dispatch

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"

	"github.com/udisondev/l2mitmproxy/internal/constants"
	"github.com/udisondev/l2mitmproxy/internal/protocol"
)

// VersionInspector is an optional Codec capability: if the codec supplied
// to a Dispatcher implements it, createHook can warn when a caller asks
// for an older definition version than the codec actually has registered
// for that message. Codecs that don't implement it simply don't get the
// warning — the core Codec contract (spec §6) doesn't require it.
type VersionInspector interface {
	LatestDefinitionVersion(name string) int
}

// HookSpec is the normalized, statically-typed stand-in for the source's
// dynamically-dispatched createHook argument shapes (spec §9). Name is
// the only required field; everything else has a spec-defined default.
type HookSpec struct {
	// Name is a message name ("S_LOGIN") or the wildcard "*".
	Name string
	// Version selects a schema revision. Accepted dynamic types: int,
	// "*", "latest", "raw", or nil (defaults to "*"). Anything else is
	// treated the same as "*" (spec: "any other non-integer, non-'raw'
	// string ⇒ *").
	Version any
	// Order controls position in the merged iteration; default 0.
	Order int32
	// Filter overrides DefaultFilter's fields that are non-nil here.
	Filter Filter
	// ModuleName tags the hook for bulk revocation; set by module.Wrapper,
	// left empty for hooks registered directly on a Dispatcher.
	ModuleName string

	Raw    RawHookFunc
	Parsed ParsedHookFunc
}

func resolveFilter(override Filter) Filter {
	f := DefaultFilter()
	if override.Fake != nil {
		f.Fake = override.Fake
	}
	if override.Incoming != nil {
		f.Incoming = override.Incoming
	}
	if override.Modified != nil {
		f.Modified = override.Modified
	}
	if override.Silenced != nil {
		f.Silenced = override.Silenced
	}
	return f
}

// Handle is returned by Dispatcher.Hook. It stays valid (and Unhook-able)
// whether or not the underlying Hook has been materialized into the
// registry yet (spec §9: "a stable handle even before materialization").
type Handle struct {
	hook    *Hook
	pending bool
}

// Dispatcher owns the Registry and drives every message through it. One
// Dispatcher belongs to exactly one Connection (spec §3 ownership rules).
type Dispatcher struct {
	registry *Registry
	codec    protocol.Codec

	protocolVersion    protocol.ProtocolVersion
	checkVersionOpcode uint16
	versionDetected    bool

	queued []*Hook

	noWarnImpliedVersion bool
	logger               *slog.Logger

	// toClient and toServer supply the peer-facing Cipher-encrypt/socket-write
	// step for synthetic messages built by Write. Set via SetPeers by the
	// Connection that owns this Dispatcher.
	toClient func([]byte) error
	toServer func([]byte) error
}

// New creates a Dispatcher bound to codec, watching checkVersionOpcode for
// the dynamic protocol-version handshake (spec §4.E.2 step 2).
func New(codec protocol.Codec, checkVersionOpcode uint16, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	_, noWarn := os.LookupEnv("NO_WARN_IMPLIED_VERSION")
	return &Dispatcher{
		registry:             NewRegistry(),
		codec:                codec,
		checkVersionOpcode:   checkVersionOpcode,
		noWarnImpliedVersion: noWarn,
		logger:               logger,
	}
}

// SetPeers wires the outbound functions Write uses to deliver synthetic
// (fake) messages once the hook chain has had a chance to observe them.
func (d *Dispatcher) SetPeers(toClient, toServer func([]byte) error) {
	d.toClient, d.toServer = toClient, toServer
}

// ProtocolVersion reports the negotiated protocol version, or
// protocol.ProtocolVersionUnknown before C_CHECK_VERSION has been seen.
func (d *Dispatcher) ProtocolVersion() protocol.ProtocolVersion { return d.protocolVersion }

func (d *Dispatcher) resolveCode(name string) Code {
	if name == "*" {
		return Any
	}
	code, ok := d.codec.Code(d.protocolVersion, name)
	if !ok {
		return Unknown
	}
	return Code(code)
}

// createHook normalizes spec into a Hook without registering it anywhere.
func (d *Dispatcher) createHook(spec HookSpec) *Hook {
	name := spec.Name
	if name != "*" {
		name = protocol.NormalizeMessageName(name)
	}

	version, impliedDefault := normalizeVersion(spec.Version)
	if impliedDefault && !d.noWarnImpliedVersion {
		d.logger.Warn("hook registered without an explicit version, defaulting to latest", "name", name)
	}

	if name == "*" && isIntegerVersion(spec.Version) {
		d.logger.Error("wildcard hook forbids an integer version, forcing latest", "requestedVersion", spec.Version)
		version = protocol.VersionLatest
	}

	code := d.resolveCode(name)
	if code == Unknown {
		d.logger.Error("hook registered against unresolved message name", "name", name)
	}

	if insp, ok := d.codec.(VersionInspector); ok && version != protocol.VersionLatest && version != protocol.VersionRaw {
		if latest := insp.LatestDefinitionVersion(name); latest > int(version) {
			d.logger.Warn("hook uses an older definition version than the codec has", "name", name, "requested", version, "latest", latest)
		}
	}

	h := &Hook{
		Name:              name,
		Code:              code,
		Filter:            resolveFilter(spec.Filter),
		Order:             spec.Order,
		DefinitionVersion: version,
		ModuleName:        spec.ModuleName,
		Raw:               spec.Raw,
		Parsed:            spec.Parsed,
	}

	if h.IsRaw() {
		if h.Raw == nil {
			d.logger.Error("raw hook registered without a callback, substituting no-op", "name", name)
			h.Raw = func(Code, []byte, bool, bool) RawOutcome { return RawOutcome{} }
		}
	} else if h.Parsed == nil {
		d.logger.Error("hook registered without a callback, substituting no-op", "name", name)
		h.Parsed = func(HookContext, protocol.Event) bool { return true }
	}

	return h
}

// normalizeVersion maps the dynamic-typed version argument onto
// protocol.DefinitionVersion. impliedDefault is true when the caller
// didn't specify one at all (nil), the shortcut the spec warns about.
func normalizeVersion(v any) (version protocol.DefinitionVersion, impliedDefault bool) {
	switch val := v.(type) {
	case nil:
		return protocol.VersionLatest, true
	case int:
		return protocol.DefinitionVersion(val), false
	case string:
		switch val {
		case "raw":
			return protocol.VersionRaw, false
		case "latest", "*":
			return protocol.VersionLatest, false
		default:
			return protocol.VersionLatest, false
		}
	default:
		return protocol.VersionLatest, false
	}
}

func isIntegerVersion(v any) bool {
	_, ok := v.(int)
	return ok
}

// Hook registers spec. If the protocol version is still unknown, the hook
// is queued and materializes later via setProtocolVersion; otherwise it
// is created and inserted immediately. The returned Handle is valid
// either way.
func (d *Dispatcher) Hook(spec HookSpec) *Handle {
	h := d.createHook(spec)

	if d.protocolVersion == protocol.ProtocolVersionUnknown {
		d.queued = append(d.queued, h)
		return &Handle{hook: h, pending: true}
	}

	d.registry.Add(h)
	return &Handle{hook: h, pending: false}
}

// Unhook removes the hook behind handle, whether it is live in the
// registry or still queued. Idempotent.
func (d *Dispatcher) Unhook(handle *Handle) {
	if handle == nil {
		return
	}
	if handle.pending {
		for i, h := range d.queued {
			if h == handle.hook {
				d.queued = append(d.queued[:i], d.queued[i+1:]...)
				break
			}
		}
		return
	}
	d.registry.Remove(handle.hook)
}

// SetProtocolVersion records the negotiated protocol version and drains
// every queued hook, in registration order, into the registry — each
// hook's Code is re-resolved against the newly known codec table (spec
// §4.E.4, Testable Property 8, scenario S6). Setting it to
// protocol.ProtocolVersionUnknown is a no-op beyond logging.
func (d *Dispatcher) SetProtocolVersion(v protocol.ProtocolVersion) {
	if v == protocol.ProtocolVersionUnknown {
		d.logger.Debug("setProtocolVersion called with unknown version, ignoring")
		return
	}
	d.protocolVersion = v
	d.logger.Info("protocol version negotiated", "version", v)

	pending := d.queued
	d.queued = nil
	for _, h := range pending {
		if h.Name != "*" {
			h.Code = d.resolveCode(h.Name)
		}
		d.registry.Add(h)
	}
}

// RevokeModule drops every hook tagged with moduleName, whether already
// live in the registry or still queued awaiting protocol-version
// negotiation (spec §4.F unload, Testable Property 3).
func (d *Dispatcher) RevokeModule(moduleName string) {
	d.registry.RemoveByModule(moduleName)

	kept := d.queued[:0]
	for _, h := range d.queued {
		if h.ModuleName != moduleName {
			kept = append(kept, h)
		}
	}
	d.queued = kept
}

// Handle runs data through every hook bound to its opcode, in merged
// order, returning the (possibly rewritten) bytes to forward and
// silenced=true if the message should be dropped (spec §4.E.2).
func (d *Dispatcher) Handle(data []byte, incoming, fake bool) (out []byte, silenced bool) {
	code := binary.LittleEndian.Uint16(data[constants.HeaderSize:constants.MinMessageLen])

	if !d.versionDetected && code == d.checkVersionOpcode && d.protocolVersion == protocol.ProtocolVersionUnknown {
		d.detectProtocolVersion(data)
	}

	hooks := d.registry.Merged(Code(code))
	if len(hooks) == 0 {
		return data, false
	}

	snapshot := append([]byte(nil), data...)
	modified := false
	isSilenced := false

	for _, h := range hooks {
		if !h.Filter.matches(fake, incoming, modified, isSilenced) {
			continue
		}

		if h.IsRaw() {
			data, modified, isSilenced = d.runRaw(h, Code(code), data, incoming, fake, modified, isSilenced)
			continue
		}

		var ok bool
		data, modified, isSilenced, ok = d.runParsed(h, Code(code), data, snapshot, incoming, fake, modified, isSilenced)
		if !ok {
			// Parse failure aborts the chain for this message; the
			// current (possibly raw-mutated) buffer is returned as-is.
			return data, isSilenced
		}
	}

	return data, isSilenced
}

func (d *Dispatcher) runRaw(h *Hook, code Code, data []byte, incoming, fake, modified, silenced bool) ([]byte, bool, bool) {
	outcome := safeRaw(h, code, data, incoming, fake, d.logger)

	if outcome.Data != nil {
		if !bytes.Equal(outcome.Data, data) {
			modified = true
		}
		data = outcome.Data
	}
	if outcome.Silence != nil {
		// true un-silences, false silences (spec §4.E.2 step 5 raw case).
		silenced = !*outcome.Silence
	}
	return data, modified, silenced
}

func safeRaw(h *Hook, code Code, data []byte, incoming, fake bool, logger *slog.Logger) (outcome RawOutcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("hook panicked", "hook", h.Name, "module", h.ModuleName, "panic", r)
			outcome = RawOutcome{}
		}
	}()
	return h.Raw(code, data, incoming, fake)
}

func (d *Dispatcher) runParsed(h *Hook, code Code, data, snapshot []byte, incoming, fake, modified, silenced bool) ([]byte, bool, bool, bool) {
	event, err := d.codec.Parse(d.protocolVersion, uint16(code), h.DefinitionVersion, data[constants.MinMessageLen:])
	if err != nil {
		d.logger.Error("parsing message for hook failed, aborting chain", "hook", h.Name, "module", h.ModuleName, "err", err)
		return data, modified, silenced, false
	}

	ctx := HookContext{Fake: fake, Incoming: incoming, Modified: modified, Silenced: silenced}
	keep := safeParsed(h, ctx, event, d.logger)

	if !keep {
		return data, modified, true, true
	}

	payload, err := d.codec.Write(d.protocolVersion, uint16(code), h.DefinitionVersion, event)
	if err != nil {
		d.logger.Error("re-serializing message after hook failed, leaving buffer unchanged", "hook", h.Name, "module", h.ModuleName, "err", err)
		return data, modified, false, true
	}

	rebuilt := rebuildMessage(uint16(code), payload)
	return rebuilt, true, false, true
}

func safeParsed(h *Hook, ctx HookContext, event protocol.Event, logger *slog.Logger) (keep bool) {
	keep = true
	defer func() {
		if r := recover(); r != nil {
			logger.Error("hook panicked", "hook", h.Name, "module", h.ModuleName, "panic", r)
			keep = true
		}
	}()
	return h.Parsed(ctx, event)
}

// rebuildMessage re-frames payload with the 4-byte length+opcode header
// the wire format requires.
func rebuildMessage(code uint16, payload []byte) []byte {
	out := make([]byte, constants.MinMessageLen+len(payload))
	binary.LittleEndian.PutUint16(out, uint16(len(out)))
	binary.LittleEndian.PutUint16(out[constants.HeaderSize:], code)
	copy(out[constants.MinMessageLen:], payload)
	return out
}

// detectProtocolVersion implements spec §4.E.2 step 2: parse the
// C_CHECK_VERSION payload under the earliest known schema
// (protocol.ProtocolVersionUnknown) and adopt version[0].value.
func (d *Dispatcher) detectProtocolVersion(data []byte) {
	event, err := d.codec.Parse(protocol.ProtocolVersionUnknown, d.checkVersionOpcode, protocol.VersionLatest, data[constants.MinMessageLen:])
	if err != nil {
		d.logger.Error("parsing C_CHECK_VERSION under earliest schema failed", "err", err)
		return
	}

	entries, ok := event["version"].([]protocol.VersionEntry)
	if !ok || len(entries) == 0 || entries[0].Index != 0 {
		d.logger.Error("C_CHECK_VERSION payload missing version[0]", "event", event)
		return
	}

	d.versionDetected = true
	d.SetProtocolVersion(protocol.ProtocolVersion(entries[0].Value))
}

// Write synthesizes an outbound message: name/version/event are
// serialized via the codec, then the result is fed through Handle with
// fake=true so local hooks can observe or rewrite it before it is sent
// (spec §4.E.3). toClient selects which peer receives it.
func (d *Dispatcher) Write(toClient bool, name string, version protocol.DefinitionVersion, event protocol.Event) error {
	code, ok := d.codec.Code(d.protocolVersion, protocol.NormalizeMessageName(name))
	if !ok {
		return fmt.Errorf("dispatch: write: unresolved message name %q", name)
	}
	payload, err := d.codec.Write(d.protocolVersion, code, version, event)
	if err != nil {
		return fmt.Errorf("dispatch: write: %w", err)
	}
	return d.WriteRaw(toClient, rebuildMessage(code, payload))
}

// WriteRaw sends a pre-built buffer verbatim if it came from the caller
// directly (spec §4.E.3: "If first argument is a raw buffer, send
// verbatim"), but still through Handle so hooks observe fake messages.
func (d *Dispatcher) WriteRaw(toClient bool, data []byte) error {
	out, silenced := d.Handle(data, !toClient, true)
	if silenced {
		return nil
	}
	if toClient {
		if d.toClient == nil {
			return fmt.Errorf("dispatch: write: no client peer wired")
		}
		return d.toClient(out)
	}
	if d.toServer == nil {
		return fmt.Errorf("dispatch: write: no server peer wired")
	}
	return d.toServer(out)
}
