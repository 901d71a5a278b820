package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/auricle-dev/auricle/ctrlclient"
	"github.com/auricle-dev/auricle/ctrltypes"
)

// StatusCmd queries a running card daemon over the control link.
type StatusCmd struct {
	Addr     string `help:"Control server address" default:"127.0.0.1:4252" env:"AURICLE_ADDR"`
	Password string `help:"Control server password (prompted on rejection when omitted)" env:"AURICLE_PASSWORD"`
	Watch    bool   `help:"Keep the connection and print completion interrupts as they happen"`
}

// Run is called by Kong when the status command is executed.
func (s *StatusCmd) Run(logger *slog.Logger) error {
	client, err := s.connect()
	if err != nil {
		return err
	}

	st, err := client.Status()
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))

	if !s.Watch {
		return nil
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream, err := client.WatchIRQs(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()
	events, errs := stream.Events(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if ok {
				return err
			}
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			fmt.Printf("irq %s #%d\n", ev.Direction, ev.Count)
		}
	}
}

// connect builds a client, retrying once with a prompted password when the
// server rejects an unauthenticated connection.
func (s *StatusCmd) connect() (*ctrlclient.Client, error) {
	if s.Password != "" {
		return ctrlclient.NewWithPassword(s.Addr, s.Password), nil
	}
	client := ctrlclient.New(s.Addr)
	_, err := client.Ping()
	if err == nil {
		return client, nil
	}
	var apiErr *ctrltypes.ApiError
	if !errors.As(err, &apiErr) || apiErr.Status != 401 || !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, err
	}
	fmt.Fprint(os.Stderr, "Password: ")
	pw, perr := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if perr != nil {
		return nil, perr
	}
	return ctrlclient.NewWithPassword(s.Addr, strings.TrimSpace(string(pw))), nil
}
