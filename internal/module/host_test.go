package module

import (
	"log/slog"
	"testing"

	"github.com/udisondev/l2mitmproxy/internal/dispatch"
	"github.com/udisondev/l2mitmproxy/internal/protocol"
)

type recordingModule struct {
	destroyed int
}

func (m *recordingModule) Destroy() { m.destroyed++ }

func newTestHost(t *testing.T) (*Host, *dispatch.Dispatcher) {
	t.Helper()
	codec := protocol.NewDefaultTableCodec(19900, 361000)
	d := dispatch.New(codec, 19900, slog.Default())
	d.SetProtocolVersion(361000)
	return NewHost(d, slog.Default()), d
}

func TestHost_LoadUnloadRevokesHooksAndDestroys(t *testing.T) {
	host, d := newTestHost(t)

	mod := &recordingModule{}
	fireCount := 0
	factory := func(w *Wrapper, args ...string) (any, error) {
		w.Hook(dispatch.HookSpec{Name: "S_LOGIN", Parsed: func(dispatch.HookContext, protocol.Event) bool {
			fireCount++
			return true
		}})
		w.Hook(dispatch.HookSpec{Name: "*", Version: "raw", Raw: func(dispatch.Code, []byte, bool, bool) dispatch.RawOutcome {
			fireCount++
			return dispatch.RawOutcome{}
		}})
		return mod, nil
	}

	instance, err := host.LoadWith("M", factory)
	if err != nil {
		t.Fatal(err)
	}
	if instance != mod {
		t.Fatal("expected constructed instance back")
	}

	// Double-load returns the existing instance without reconstructing.
	again, err := host.LoadWith("M", factory)
	if err != nil || again != mod {
		t.Fatalf("double-load: got %v, %v", again, err)
	}

	msg := rebuildLogin(t, d)
	d.Handle(msg, false, false)
	if fireCount != 2 {
		t.Fatalf("fireCount = %d, want 2 before unload", fireCount)
	}

	if !host.Unload("M") {
		t.Fatal("Unload(M) = false, want true")
	}
	if mod.destroyed != 1 {
		t.Fatalf("destroyed = %d, want exactly 1", mod.destroyed)
	}

	fireCount = 0
	d.Handle(msg, false, false)
	if fireCount != 0 {
		t.Fatalf("fireCount = %d after unload, want 0 (S5)", fireCount)
	}

	// Idempotent.
	if host.Unload("M") {
		t.Fatal("second Unload(M) should report false")
	}
}

func rebuildLogin(t *testing.T, d *dispatch.Dispatcher) []byte {
	t.Helper()
	codec := protocol.NewDefaultTableCodec(19900, 361000)
	payload, err := codec.Write(d.ProtocolVersion(), 0x1234, protocol.VersionLatest, protocol.Event{"accountName": "a", "sessionId": int32(1)})
	if err != nil {
		t.Fatal(err)
	}
	out := make([]byte, 4+len(payload))
	out[0] = byte(len(out))
	out[1] = byte(len(out) >> 8)
	out[2] = 0x34
	out[3] = 0x12
	copy(out[4:], payload)
	return out
}

func TestHost_Reset(t *testing.T) {
	host, _ := newTestHost(t)
	destroyed := 0
	factory := func(w *Wrapper, args ...string) (any, error) {
		return destroyerFunc(func() { destroyed++ }), nil
	}
	host.LoadWith("a", factory)
	host.LoadWith("b", factory)

	host.Reset()

	if destroyed != 2 {
		t.Fatalf("destroyed = %d, want 2", destroyed)
	}
	if host.Loaded("a") || host.Loaded("b") {
		t.Fatal("expected no modules loaded after Reset")
	}
}

type destroyerFunc func()

func (f destroyerFunc) Destroy() { f() }
