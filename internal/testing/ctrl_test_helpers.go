package testing

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/auricle-dev/auricle/card"
	"github.com/auricle-dev/auricle/hostmem"
	"github.com/auricle-dev/auricle/internal/log"
	"github.com/auricle-dev/auricle/internal/server/ctrl"
	"github.com/auricle-dev/auricle/regfile"
)

// StartCtrlServer starts a control server over a fresh card on a free port and
// calls register to allow the caller to register the handlers needed for the
// test. Returns the address and a function to call when done.
func StartCtrlServer(t *testing.T, register func(r *ctrl.Router, c *card.Card, regs *regfile.RegisterFile, srv *ctrl.Server)) (addr string, c *card.Card, done func()) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := hostmem.New(1 << 20)
	c, err := card.New(mem, card.DefaultParams(), logger)
	if err != nil {
		t.Fatalf("create card failed: %v", err)
	}
	regs := regfile.New(c, logger)

	srv := ctrl.New(c, regs, ctrl.ServerConfig{Addr: "127.0.0.1:0"}, logger, log.NewRaw(nil))
	if register != nil {
		register(srv.Router(), c, regs, srv)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("control server start failed: %v", err)
	}

	done = func() {
		srv.Close()
		time.Sleep(10 * time.Millisecond)
	}
	return srv.Addr().String(), c, done
}

// ExecCmd dials the control server, sends cmd and reads the full response.
// The command should not include a trailing newline. Returns the response
// without the trailing newline.
func ExecCmd(t *testing.T, addr string, cmd string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// Null terminator ends the request, matching the server framing.
	_, _ = fmt.Fprintf(conn, "%s\x00", cmd)

	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		t.Fatalf("read failed: %v", err)
	}

	result := strings.TrimSuffix(line, "\n")
	result = strings.TrimSuffix(result, "\r")
	return result
}
