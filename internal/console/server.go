// Package console serves a plain-text diagnostic console over TCP.
//
// Each line is one command. Responses end with a line holding a single ".",
// so scripts can read until the terminator:
//
//	$ nc localhost 9100
//	mqttlogic 1.2.0 - use HELP for list of commands
//	TIMERS
//	night	2026-04-10 22:00:00 CEST	0 0 22 * * *	rules.publishTimer
//	.
package console

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	rtsup "mqttlogic/internal/runtime/supervisor"
	"mqttlogic/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
	// IdleTimeout closes connections without input for that long; 0 disables.
	IdleTimeout time.Duration
}

const DefaultAddr = "127.0.0.1:9100"

// maxLine bounds one command line.
const maxLine = 64 * 1024

type Server struct {
	cfg   Config
	shell *Shell
	log   logx.Logger

	mu    sync.Mutex
	ln    net.Listener
	sup   *rtsup.Supervisor
	conns map[net.Conn]struct{}
}

func New(cfg Config, shell *Shell, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		cfg:   cfg,
		shell: shell,
		log:   log.With(logx.String("comp", "console")),
		conns: map[net.Conn]struct{}{},
	}
}

// Start binds the listener. Bind errors are returned; accept errors after
// that are logged.
func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = DefaultAddr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.sup.Go("console.accept", s.acceptLoop)
	s.sup.Go0("console.close", func(ctx context.Context) {
		<-ctx.Done()
		_ = ln.Close()
		s.closeConns()
	})
	s.log.Info("console listening", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("console stop", logx.Err(err))
	}
}

// Addr is the bound address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) acceptLoop(ctx context.Context) error {
	s.mu.Lock()
	ln, sup := s.ln, s.sup
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("console accept failed", logx.Err(err))
			continue
		}
		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}
		sup.Go0("console.conn", func(ctx context.Context) {
			defer s.untrack(conn)
			s.serve(conn)
		})
	}
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup == nil {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	_ = c.Close()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

// serve runs one session until QUIT, EOF or an I/O error.
func (s *Server) serve(conn net.Conn) {
	log := s.log.With(logx.String("remote", conn.RemoteAddr().String()))
	log.Debug("console session opened")
	defer log.Debug("console session closed")

	w := bufio.NewWriter(conn)
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), maxLine)

	if err := writeLines(w, []string{s.shell.Greeting()}); err != nil {
		return
	}
	for {
		if s.cfg.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		if !sc.Scan() {
			if err := sc.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
				log.Info("console read failed", logx.Err(err))
			}
			return
		}
		line := sc.Text()
		out, quit := s.shell.Execute(line)
		if quit {
			return
		}
		if err := writeLines(w, out); err != nil {
			log.Info("console write failed", logx.String("line", line), logx.Err(err))
			return
		}
	}
}

func writeLines(w *bufio.Writer, lines []string) error {
	for _, l := range lines {
		if _, err := w.WriteString(l); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}
