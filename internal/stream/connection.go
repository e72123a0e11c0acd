// Package stream drives the handshake state machine described in the
// component design: it owns a client socket and a server socket, two
// Cipher contexts (one per side), and the PacketBuffers and Dispatcher
// that turn raw bytes into a moderated message stream.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/udisondev/l2mitmproxy/internal/buffer"
	"github.com/udisondev/l2mitmproxy/internal/constants"
	"github.com/udisondev/l2mitmproxy/internal/crypto"
	"github.com/udisondev/l2mitmproxy/internal/dispatch"
)

// State is the handshake phase of a Connection (spec §4.C).
type State int32

const (
	StateAwaitingMagic       State = -1
	StateAwaitingFirstKeys   State = 0
	StateAwaitingRemaining   State = 1
	StateSteady              State = 2
)

// FramingError reports a protocol violation at the stream layer: a
// malformed handshake datagram, or a key arriving out of the expected
// sequence.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string { return fmt.Sprintf("stream: %s", e.Reason) }

// chunk is a raw read from one socket, forwarded from its dedicated pump
// goroutine to Connection's single coordinating goroutine.
type chunk struct {
	data []byte
	err  error
}

// CipherFactory constructs a fresh Cipher for one direction's session.
// Connection calls it twice per Connection (session1, session2).
type CipherFactory func() crypto.Cipher

// Connection owns one accepted client socket and its dialed server
// socket, and drives the handshake and steady-state splice between them.
// Not safe for concurrent use: all state is touched only from the
// goroutine running Run (spec §5).
type Connection struct {
	client net.Conn
	server net.Conn

	session1 crypto.Cipher // client<->proxy
	session2 crypto.Cipher // proxy<->server

	clientBuffer *buffer.PacketBuffer
	serverBuffer *buffer.PacketBuffer

	dispatcher *dispatch.Dispatcher

	state         State
	clientKeysSet int
	serverKeysSet int

	logger *slog.Logger
}

// New wires a Connection around an already-accepted client socket and an
// already-dialed server socket. It wires dispatcher.SetPeers so
// dispatcher.Write can reach this Connection's sockets; Run closes both
// sockets when it returns.
func New(client, server net.Conn, dispatcher *dispatch.Dispatcher, ciphers CipherFactory, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		client:       client,
		server:       server,
		session1:     ciphers(),
		session2:     ciphers(),
		clientBuffer: buffer.New(),
		serverBuffer: buffer.New(),
		dispatcher:   dispatcher,
		state:        StateAwaitingMagic,
		logger:       logger,
	}
	dispatcher.SetPeers(c.sendToClient, c.sendToServer)
	return c
}

func (c *Connection) sendToClient(data []byte) error {
	if c.state == StateSteady {
		c.session1.Encrypt(data)
	}
	_, err := c.client.Write(data)
	return err
}

func (c *Connection) sendToServer(data []byte) error {
	if c.state == StateSteady {
		c.session2.Encrypt(data)
	}
	_, err := c.server.Write(data)
	return err
}

// Run drives the connection until either socket closes, ctx is
// cancelled, or a fatal framing/crypto error occurs. It always closes
// both sockets before returning (spec §4.C close semantics: either
// socket's close half-closes the other).
func (c *Connection) Run(ctx context.Context) error {
	defer c.client.Close()
	defer c.server.Close()

	fromClient := make(chan chunk, 16)
	fromServer := make(chan chunk, 16)
	go pump(c.client, fromClient)
	go pump(c.server, fromServer)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ch := <-fromClient:
			if ch.err != nil {
				return nil
			}
			if err := c.onClientChunk(ch.data); err != nil {
				c.logger.Error("closing connection after client-side error", "err", err)
				return err
			}
		case ch := <-fromServer:
			if ch.err != nil {
				return nil
			}
			if err := c.onServerChunk(ch.data); err != nil {
				c.logger.Error("closing connection after server-side error", "err", err)
				return err
			}
		}
	}
}

func pump(conn net.Conn, out chan<- chunk) {
	buf := make([]byte, 8192)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			out <- chunk{data: cp}
		}
		if err != nil {
			out <- chunk{err: err}
			return
		}
	}
}

// onServerChunk advances the handshake (or feeds the steady-state drain
// loop) for bytes read from the server socket.
func (c *Connection) onServerChunk(data []byte) error {
	switch {
	case c.state == StateAwaitingMagic:
		return c.handleServerMagic(data)
	case c.state != StateSteady:
		return c.handleServerKey(data)
	default:
		return c.handleServerSteady(data)
	}
}

func (c *Connection) onClientChunk(data []byte) error {
	switch {
	case c.state == StateAwaitingMagic:
		return &FramingError{Reason: "client sent data before server magic"}
	case c.state != StateSteady:
		return c.handleClientKey(data)
	default:
		return c.handleClientSteady(data)
	}
}

func (c *Connection) handleServerMagic(data []byte) error {
	if len(data) != 4 {
		return &FramingError{Reason: fmt.Sprintf("expected 4-byte magic, got %d bytes", len(data))}
	}
	if _, err := c.client.Write(data); err != nil {
		return fmt.Errorf("stream: forwarding magic to client: %w", err)
	}
	c.state = StateAwaitingFirstKeys
	return nil
}

func (c *Connection) handleServerKey(data []byte) error {
	if len(data) != constants.KeyBlockSize {
		return &FramingError{Reason: fmt.Sprintf("expected %d-byte server key, got %d bytes", constants.KeyBlockSize, len(data))}
	}
	idx := c.serverKeysSet
	if idx > 1 {
		return &FramingError{Reason: "unexpected third server key datagram"}
	}

	if err := setBothSessions(c.session1.SetServerKey, c.session2.SetServerKey, idx, data); err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	c.serverKeysSet++
	c.noteKeyReceived()

	if _, err := c.client.Write(data); err != nil {
		return fmt.Errorf("stream: forwarding server key to client: %w", err)
	}

	// Only the server's second key completes the handshake (spec §4.C:
	// the client's second-key row "stays 1 until server key2 arrives").
	if idx == 1 {
		return c.finishHandshake()
	}
	return nil
}

func (c *Connection) handleClientKey(data []byte) error {
	if len(data) != constants.KeyBlockSize {
		return &FramingError{Reason: fmt.Sprintf("expected %d-byte client key, got %d bytes", constants.KeyBlockSize, len(data))}
	}
	idx := c.clientKeysSet
	if idx > 1 {
		return &FramingError{Reason: "unexpected third client key datagram"}
	}

	if err := setBothSessions(c.session1.SetClientKey, c.session2.SetClientKey, idx, data); err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	c.clientKeysSet++
	c.noteKeyReceived()

	if _, err := c.server.Write(data); err != nil {
		return fmt.Errorf("stream: forwarding client key to server: %w", err)
	}
	return nil
}

func setBothSessions(setA, setB func(idx int, key []byte) error, idx int, key []byte) error {
	if err := setA(idx, key); err != nil {
		return err
	}
	return setB(idx, key)
}

// noteKeyReceived advances state 0 -> 1 on the first key datagram seen
// from either side; subsequent keys are handled by handleServerKey /
// handleClientKey without touching state again until finishHandshake.
func (c *Connection) noteKeyReceived() {
	if c.state == StateAwaitingFirstKeys {
		c.state = StateAwaitingRemaining
	}
}

func (c *Connection) finishHandshake() (err error) {
	if c.clientKeysSet != 2 || c.serverKeysSet != 2 {
		return &FramingError{Reason: "server completed its key exchange before the client finished its own"}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stream: cipher init panicked: %v", r)
		}
	}()
	c.session1.Init()
	c.session2.Init()
	c.state = StateSteady
	return nil
}

func (c *Connection) handleServerSteady(data []byte) error {
	c.session2.Decrypt(data)
	c.serverBuffer.Write(data)
	return c.drain(c.serverBuffer, true, c.session1, c.client)
}

func (c *Connection) handleClientSteady(data []byte) error {
	c.session1.Decrypt(data)
	c.clientBuffer.Write(data)
	return c.drain(c.clientBuffer, false, c.session2, c.server)
}

// drain reads every complete message currently buffered, passes each
// through the dispatcher, and forwards the (possibly rewritten) bytes to
// peerConn re-encrypted with peerCipher — "re-encrypt with peer-direction
// cipher" (spec §4.C). Messages the dispatcher silences simply don't get
// forwarded; ordering among the messages that do is preserved because
// PacketBuffer.Read yields them in arrival order.
func (c *Connection) drain(buf *buffer.PacketBuffer, incoming bool, peerCipher crypto.Cipher, peerConn net.Conn) error {
	for {
		msg, ok, err := buf.Read()
		if err != nil {
			return fmt.Errorf("stream: %w", err)
		}
		if !ok {
			return nil
		}

		out, silenced := c.dispatcher.Handle(msg, incoming, false)
		if silenced {
			continue
		}

		peerCipher.Encrypt(out)
		if _, err := peerConn.Write(out); err != nil {
			return fmt.Errorf("stream: writing to peer: %w", err)
		}
	}
}
