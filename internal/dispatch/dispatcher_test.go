package dispatch

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/udisondev/l2mitmproxy/internal/protocol"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *protocol.TableCodec) {
	t.Helper()
	codec := protocol.NewDefaultTableCodec(19900, 361000)
	d := New(codec, 19900, slog.Default())
	return d, codec
}

// s1Message is the example message from scenario S1: [08 00 12 34 aa bb
// cc dd] — a little-endian 16-bit opcode at offset 2 made of bytes 0x12,
// 0x34 decodes to 0x3412, matching scenario S2's "opcode 0x3412".
func s1Message() []byte {
	return []byte{0x08, 0x00, 0x12, 0x34, 0xaa, 0xbb, 0xcc, 0xdd}
}

func TestDispatcher_HandleIsIdempotentWithNoHooks(t *testing.T) {
	d, _ := newTestDispatcher(t)
	msg := s1Message()
	out, silenced := d.Handle(msg, false, false)
	if silenced || !bytes.Equal(out, msg) {
		t.Fatalf("got out=%x silenced=%v, want unchanged passthrough (S1)", out, silenced)
	}
}

func TestDispatcher_RawHookCanSilence(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.SetProtocolVersion(361000)
	d.Hook(HookSpec{
		Name: "*",
		Version: "raw",
		Raw: func(code Code, data []byte, incoming, fake bool) RawOutcome {
			if code == 0x3412 {
				return Silence()
			}
			return RawOutcome{}
		},
	})

	_, silenced := d.Handle(s1Message(), false, false)
	if !silenced {
		t.Fatal("expected message to be silenced (S2)")
	}
}

func TestDispatcher_RawHookMutatesAndSetsModified(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.SetProtocolVersion(361000)
	var sawModified bool

	d.Hook(HookSpec{Name: "*", Version: "raw", Order: 0, Raw: func(code Code, data []byte, incoming, fake bool) RawOutcome {
		mutated := append([]byte(nil), data...)
		mutated[len(mutated)-1]++
		return Mutate(mutated)
	}})
	// A second hook observes the modified flag via its filter.
	d.Hook(HookSpec{
		Name:    "*",
		Version: "raw",
		Order:   2,
		Filter:  Filter{Modified: boolPtr(true)},
		Raw: func(code Code, data []byte, incoming, fake bool) RawOutcome {
			sawModified = true
			return RawOutcome{}
		},
	})

	out, silenced := d.Handle(s1Message(), false, false)
	want := []byte{0x08, 0x00, 0x12, 0x34, 0xaa, 0xbb, 0xcc, 0xde}
	if silenced || !bytes.Equal(out, want) {
		t.Fatalf("got out=%x silenced=%v, want %x (S3)", out, silenced, want)
	}
	if !sawModified {
		t.Fatal("expected a later hook to observe $modified=true")
	}
}

func TestDispatcher_MergedOrderAcrossGlobalAndSpecific(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.SetProtocolVersion(361000)
	var order []string
	record := func(name string) RawHookFunc {
		return func(Code, []byte, bool, bool) RawOutcome {
			order = append(order, name)
			return RawOutcome{}
		}
	}

	d.Hook(HookSpec{Name: "*", Version: "raw", Order: 10, Raw: record("G10")})
	d.Hook(HookSpec{Name: "*", Version: "raw", Order: 5, Filter: Filter{}, Raw: record("G5")})
	// No message name in the default codec resolves to 0x3412, so the
	// code-specific hooks are built by hand and added to the registry
	// directly.
	c5 := &Hook{Code: Code(0x3412), Order: 5, Filter: DefaultFilter(), DefinitionVersion: protocol.VersionRaw, Raw: record("C5")}
	c10 := &Hook{Code: Code(0x3412), Order: 10, Filter: DefaultFilter(), DefinitionVersion: protocol.VersionRaw, Raw: record("C10")}
	d.registry.Add(c5)
	d.registry.Add(c10)

	d.Handle(s1Message(), false, false)

	want := []string{"G5", "C5", "G10", "C10"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestDispatcher_ParsedHookRoundTripsUnmodified(t *testing.T) {
	d, codec := newTestDispatcher(t)
	d.SetProtocolVersion(361000)

	d.Hook(HookSpec{Name: "S_LOGIN", Parsed: func(ctx HookContext, event protocol.Event) bool {
		return true // no mutation
	}})

	payload, err := codec.Write(361000, 0x1234, protocol.VersionLatest, protocol.Event{"accountName": "tester", "sessionId": int32(7)})
	if err != nil {
		t.Fatal(err)
	}
	msg := rebuildMessage(0x1234, payload)

	out, silenced := d.Handle(msg, false, false)
	if silenced {
		t.Fatal("unexpected silence")
	}
	event, err := codec.Parse(361000, 0x1234, protocol.VersionLatest, out[4:])
	if err != nil {
		t.Fatal(err)
	}
	if event["accountName"] != "tester" || event["sessionId"] != int32(7) {
		t.Fatalf("round trip mismatch: %#v", event)
	}
}

func TestDispatcher_SilenceThenUnsilenceFinalStateWins(t *testing.T) {
	d, codec := newTestDispatcher(t)
	d.SetProtocolVersion(361000)

	d.Hook(HookSpec{Name: "S_LOGIN", Order: 0, Parsed: func(ctx HookContext, event protocol.Event) bool {
		return false // silence
	}})
	d.Hook(HookSpec{Name: "S_LOGIN", Order: 1, Filter: Filter{Silenced: boolPtr(true)}, Parsed: func(ctx HookContext, event protocol.Event) bool {
		return true // un-silence
	}})

	payload, _ := codec.Write(361000, 0x1234, protocol.VersionLatest, protocol.Event{"accountName": "x", "sessionId": int32(1)})
	msg := rebuildMessage(0x1234, payload)

	_, silenced := d.Handle(msg, false, false)
	if silenced {
		t.Fatal("expected final un-silence to win")
	}
}

func TestDispatcher_QueuedHooksMaterializeOnProtocolVersion(t *testing.T) {
	d, _ := newTestDispatcher(t)

	fired := false
	handle := d.Hook(HookSpec{Name: "S_LOGIN", Parsed: func(ctx HookContext, event protocol.Event) bool {
		fired = true
		return true
	}})
	if !handle.pending {
		t.Fatal("expected hook to be queued before protocol version known")
	}
	if got := d.registry.Merged(Code(0x1234)); len(got) != 0 {
		t.Fatalf("expected zero live entries before version negotiated, got %v", got)
	}

	// Drive the version negotiation via Handle itself, matching S6.
	codec := d.codec
	payload, e := codec.Write(protocol.ProtocolVersionUnknown, 19900, protocol.VersionLatest, protocol.Event{"version": []protocol.VersionEntry{{Index: 0, Value: 361000}}})
	if e != nil {
		t.Fatal(e)
	}
	d.Handle(rebuildMessage(19900, payload), false, false)

	if d.ProtocolVersion() != 361000 {
		t.Fatalf("ProtocolVersion() = %d, want 361000", d.ProtocolVersion())
	}
	if got := d.registry.Merged(Code(0x1234)); len(got) != 1 {
		t.Fatalf("expected hook materialized under 0x1234, got %v", got)
	}

	loginPayload, _ := codec.Write(361000, 0x1234, protocol.VersionLatest, protocol.Event{"accountName": "a", "sessionId": int32(1)})
	d.Handle(rebuildMessage(0x1234, loginPayload), false, false)
	if !fired {
		t.Fatal("expected materialized hook to fire")
	}
}
