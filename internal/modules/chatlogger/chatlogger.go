// Package chatlogger is a reference module: it hooks S_LOGIN in both
// directions and appends a line per sighting to a log file, demonstrating
// the module.Factory/Wrapper/Destructor contract end to end (args, hook
// registration tagged by module name, and cleanup on unload).
package chatlogger

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/udisondev/l2mitmproxy/internal/dispatch"
	"github.com/udisondev/l2mitmproxy/internal/module"
	"github.com/udisondev/l2mitmproxy/internal/protocol"
)

// Name is the registry key this module is loaded under
// (config.ModuleSpec.Name / module.Host.Load).
const Name = "chat-logger"

func init() {
	module.Register(Name, New)
}

// Logger appends one line per observed S_LOGIN message to a file.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
	hook *dispatch.Handle
}

// New is the module.Factory registered under Name. args[0] is the log file
// path; it is created/appended to, never truncated, so repeated loads of
// the module across proxy restarts keep history.
func New(w *module.Wrapper, args ...string) (any, error) {
	if len(args) < 1 || args[0] == "" {
		return nil, fmt.Errorf("chatlogger: missing log file path argument")
	}

	f, err := os.OpenFile(args[0], os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("chatlogger: opening %s: %w", args[0], err)
	}

	l := &Logger{file: f, w: bufio.NewWriter(f)}
	l.hook = w.Hook(dispatch.HookSpec{
		Name:    "S_LOGIN",
		Version: "latest",
		Parsed:  l.onLogin,
	})
	return l, nil
}

func (l *Logger) onLogin(ctx dispatch.HookContext, event protocol.Event) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	account, _ := event["accountName"].(string)
	direction := "client->server"
	if ctx.Incoming {
		direction = "server->client"
	}
	fmt.Fprintf(l.w, "%s %s account=%q\n", time.Now().UTC().Format(time.RFC3339), direction, account)
	l.w.Flush()

	return true
}

// Destroy flushes and closes the log file. Unhooking happens separately,
// via module.Host.Unload's RevokeModule call — Destroy only owns the
// resource this module itself allocated.
func (l *Logger) Destroy() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Flush()
	l.file.Close()
}

var _ module.Destructor = (*Logger)(nil)
