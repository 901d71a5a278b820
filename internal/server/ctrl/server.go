// Package ctrl implements the TCP control link of the virtual card: the
// path a host-side driver uses to access the register window and watch
// completion interrupts without sharing the card's process. Commands are
// null-terminated text lines answered with JSON; when a password is
// configured the connection is authenticated and encrypted first.
package ctrl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/auricle-dev/auricle/card"
	"github.com/auricle-dev/auricle/internal/log"
	"github.com/auricle-dev/auricle/internal/server/ctrl/auth"
	"github.com/auricle-dev/auricle/regfile"
)

// ServerConfig represents the control server configuration.
type ServerConfig struct {
	Addr              string        `help:"Control server listen address" default:":4252" env:"AURICLE_CTRL_ADDR"`
	Password          string        `kong:"-"`
	ConnectionTimeout time.Duration `kong:"-"`
}

// Server serves register access and status over TCP.
type Server struct {
	card      *card.Card
	regs      *regfile.RegisterFile
	addr      string
	ln        net.Listener
	logger    *slog.Logger
	rawLogger log.RawLogger
	router    *Router
	config    ServerConfig
}

// New creates a control server bound to a card and its register window.
func New(c *card.Card, regs *regfile.RegisterFile, config ServerConfig, logger *slog.Logger, rawLogger log.RawLogger) *Server {
	s := &Server{
		card:      c,
		regs:      regs,
		addr:      config.Addr,
		logger:    logger,
		rawLogger: rawLogger,
		config:    config,
	}
	s.router = NewRouter()
	return s
}

// Router returns the router used by the control server so callers can register handlers.
func (s *Server) Router() *Router { return s.router }

// Card returns the underlying card.
func (s *Server) Card() *card.Card { return s.card }

// Registers returns the register window.
func (s *Server) Registers() *regfile.RegisterFile { return s.regs }

// Config returns the server configuration.
func (s *Server) Config() ServerConfig { return s.config }

// Addr returns the bound listen address, valid after Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Start listens on the configured address and serves incoming commands.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.logger.Info("control listening", "addr", ln.Addr().String())
	go s.serve()
	return nil
}

// Close stops the control server.
func (s *Server) Close() {
	if s.ln != nil {
		_ = s.ln.Close()
	}
}

func (s *Server) serve() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || strings.Contains(strings.ToLower(err.Error()), "use of closed network connection") {
				s.logger.Info("control server stopped")
				return
			}
			s.logger.Info("control accept error", "error", err)
			return
		}
		go s.handleConn(c)
	}
}

func (s *Server) writeError(w io.Writer, err error) {
	apiErr := WrapError(err)
	problemJSON, _ := json.Marshal(apiErr)
	fmt.Fprintf(w, "%s\n", string(problemJSON))
}

func (s *Server) writeOK(w io.Writer, rest string) {
	if rest == "" {
		fmt.Fprintln(w)
	} else {
		fmt.Fprintf(w, "%s\n", rest)
	}
}

// authenticate runs the server side of the handshake when a password is
// configured and returns the connection to keep using. Unauthenticated
// clients are rejected outright.
func (s *Server) authenticate(conn net.Conn, r *bufio.Reader, logger *slog.Logger) (net.Conn, *bufio.Reader, error) {
	if s.config.Password == "" {
		return conn, r, nil
	}
	if s.config.ConnectionTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.config.ConnectionTimeout))
	}
	isAuth, err := auth.IsAuthHandshake(r)
	if err != nil {
		return nil, nil, fmt.Errorf("peek handshake: %w", err)
	}
	if !isAuth {
		return nil, nil, ErrUnauthorized("authentication required")
	}
	key, err := auth.DeriveKey(s.config.Password)
	if err != nil {
		return nil, nil, err
	}
	clientNonce, serverNonce, err := auth.HandleAuthHandshake(r, conn, key, false)
	if err != nil {
		return nil, nil, err
	}
	sessionKey := auth.DeriveSessionKey(key, serverNonce, clientNonce)
	sealed, err := auth.WrapConn(conn, sessionKey)
	if err != nil {
		return nil, nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})
	logger.Debug("control connection authenticated")
	return sealed, bufio.NewReader(sealed), nil
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	connLogger := s.logger.With("remote", conn.RemoteAddr().String())
	r := bufio.NewReader(conn)

	sealedConn, r, err := s.authenticate(conn, r, connLogger)
	if err != nil {
		connLogger.Error("control auth failed", "error", err)
		s.writeError(conn, err)
		return
	}
	w := sealedConn

	// Read until null terminator
	reqData, err := r.ReadString('\x00')
	if err != nil {
		if err == io.EOF {
			connLogger.Error("control incomplete request (no null terminator)")
		} else {
			connLogger.Error("read control data", "error", err)
		}
		return
	}
	// Remove null terminator
	reqData = strings.TrimSuffix(reqData, "\x00")
	if s.rawLogger != nil {
		s.rawLogger.Log(true, []byte(reqData))
	}

	if reqData == "" {
		connLogger.Error("control empty command")
		s.writeError(w, ErrBadRequest("empty request"))
		return
	}

	// Split on first whitespace character using regex \s
	wsRegex := regexp.MustCompile(`\s`)
	loc := wsRegex.FindStringIndex(reqData)

	var path, payload string
	if loc != nil {
		path = reqData[:loc[0]]
		payload = reqData[loc[1]:]
	} else {
		path = reqData
		payload = ""
	}

	if path == "" {
		connLogger.Error("control empty path")
		s.writeError(w, ErrBadRequest("empty path"))
		return
	}

	path = strings.ToLower(path)
	connLogger.Debug("control cmd", "path", path)

	if h, params := s.router.Match(path); h != nil {
		req := &Request{Ctx: connCtx, Params: params, Payload: payload}
		res := &Response{}
		if err := h(req, res, connLogger); err != nil {
			connLogger.Error("control handler error", "path", path, "error", err)
			s.writeError(w, err)
			return
		}
		connLogger.Debug("control handler success", "path", path)
		if s.rawLogger != nil {
			s.rawLogger.Log(false, []byte(res.JSON))
		}
		s.writeOK(w, res.JSON)
		return
	}
	if sh, _ := s.router.MatchStream(path); sh != nil {
		connLogger.Info("control stream begin", "path", path)
		if err := sh(sealedConn, s.card, connLogger); err != nil {
			connLogger.Error("control stream handler error", "path", path, "error", err)
		}
		connLogger.Info("control stream end", "path", path)
		return
	}
	connLogger.Error("control unknown path", "path", path)
	s.writeError(w, ErrNotFound(fmt.Sprintf("unknown path: %s", path)))
}
