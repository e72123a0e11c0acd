// Package proxyserver wires a config.Proxy, a protocol.Codec, and a set
// of modules into an accept loop that hands every client connection to
// the stream package. Shaped after the teacher's login.Server: a
// listener owned under a mutex, an accept loop under a WaitGroup, one
// goroutine per connection.
package proxyserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/udisondev/l2mitmproxy/internal/config"
	"github.com/udisondev/l2mitmproxy/internal/crypto"
	"github.com/udisondev/l2mitmproxy/internal/dispatch"
	"github.com/udisondev/l2mitmproxy/internal/module"
	"github.com/udisondev/l2mitmproxy/internal/protocol"
	"github.com/udisondev/l2mitmproxy/internal/stream"
)

// OnDispatch is invoked once per accepted connection, after its
// Dispatcher and Host are constructed but before any bytes flow. Callers
// use it to load modules (module.Host.Load) and register ad-hoc hooks.
type OnDispatch func(d *dispatch.Dispatcher, host *module.Host)

// Server accepts client connections on cfg.ListenAddress and, for each
// one, dials cfg.UpstreamAddress and splices the two sockets through a
// stream.Connection.
type Server struct {
	cfg        config.Proxy
	codec      protocol.Codec
	onDispatch OnDispatch
	logger     *slog.Logger

	listener net.Listener
	mu       sync.Mutex
}

// CreateServer builds a Server bound to cfg and codec. onDispatch may be
// nil if the caller has no modules to load.
func CreateServer(cfg config.Proxy, codec protocol.Codec, onDispatch OnDispatch, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if onDispatch == nil {
		onDispatch = func(*dispatch.Dispatcher, *module.Host) {}
	}
	return &Server{
		cfg:        cfg,
		codec:      codec,
		onDispatch: onDispatch,
		logger:     logger,
	}
}

// Addr returns the address the server is listening on, or nil if Run/Serve
// hasn't been called yet.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close closes the listener, unblocking Run/Serve's accept loop.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Run listens on cfg.ListenAddress and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("proxyserver: listening on %s: %w", s.cfg.ListenAddress, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or ln closes.
// Exposed separately from Run so tests can supply an arbitrary listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		s.logger.Info("proxy listening", "address", ln.Addr())
		s.acceptLoop(ctx, &wg, ln)
	})
	wg.Wait()

	return nil
}

func (s *Server) acceptLoop(ctx context.Context, wg *sync.WaitGroup, ln net.Listener) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Error("accept failed", "err", err)
				continue
			}
			wg.Go(func() {
				s.handleConnection(ctx, conn)
			})
		}
	}
}

func (s *Server) handleConnection(ctx context.Context, client net.Conn) {
	defer client.Close()

	remote := client.RemoteAddr()
	s.logger.Info("client connected", "remote", remote)

	server, err := net.Dial("tcp", s.cfg.UpstreamAddress)
	if err != nil {
		s.logger.Error("dialing upstream failed", "remote", remote, "upstream", s.cfg.UpstreamAddress, "err", err)
		return
	}
	defer server.Close()

	d := dispatch.New(s.codec, s.cfg.CheckVersionOpcode, s.logger)
	host := module.NewHost(d, s.logger)
	defer host.Reset()

	for _, m := range s.cfg.Modules {
		if _, err := host.Load(m.Name, m.Args...); err != nil {
			s.logger.Error("loading configured module failed", "module", m.Name, "err", err)
		}
	}
	s.onDispatch(d, host)

	conn := stream.New(client, server, d, s.cipherFactory(), s.logger)
	if err := conn.Run(ctx); err != nil {
		s.logger.Error("connection closed with error", "remote", remote, "err", err)
	} else {
		s.logger.Info("connection closed", "remote", remote)
	}
}

func (s *Server) cipherFactory() stream.CipherFactory {
	if s.cfg.CipherBackend == "blowfish" {
		return func() crypto.Cipher { return crypto.NewBlowfishCipher() }
	}
	return func() crypto.Cipher { return crypto.NewRollingCipher() }
}
