package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/auricle-dev/auricle/card"
	"github.com/auricle-dev/auricle/hostmem"
	"github.com/auricle-dev/auricle/internal/configpaths"
	"github.com/auricle-dev/auricle/internal/log"
	"github.com/auricle-dev/auricle/internal/server/ctrl"
	"github.com/auricle-dev/auricle/internal/server/ctrl/auth"
	"github.com/auricle-dev/auricle/internal/server/ctrl/handler"
	"github.com/auricle-dev/auricle/internal/util"
	"github.com/auricle-dev/auricle/regfile"
	"github.com/auricle-dev/auricle/sink"
)

const keyFileName = "auricle.key.txt"

// Serve runs the virtual card and exposes its register window over the
// control server.
type Serve struct {
	CardParams        card.Params       `embed:"" prefix:"card."`
	CtrlConfig        ctrl.ServerConfig `embed:"" prefix:"ctrl."`
	MemoryMB          int               `help:"Host memory window size in MiB" default:"16"`
	MetricsAddr       string            `help:"Prometheus metrics listen address (empty disables)" env:"AURICLE_METRICS_ADDR"`
	Audible           bool              `help:"Render playback through the local audio device"`
	ConnectionTimeout time.Duration     `help:"Control connection handshake timeout" default:"30s" env:"AURICLE_CONNECTION_TIMEOUT"`
}

// Run is called by Kong when the serve command is executed.
func (s *Serve) Run(logger *slog.Logger, rawLogger log.RawLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.StartServer(ctx, logger, rawLogger)
}

func (s *Serve) StartServer(ctx context.Context, logger *slog.Logger, rawLogger log.RawLogger) error {
	s.CtrlConfig.ConnectionTimeout = s.ConnectionTimeout

	logger.Info("Starting auricle virtual card", "addr", s.CtrlConfig.Addr)

	keyFileDir, err := configpaths.DefaultConfigDir()
	if err != nil {
		return fmt.Errorf("failed to resolve key file path: %w", err)
	}
	keyFilePath := path.Join(keyFileDir, keyFileName)
	if pwd, err := os.ReadFile(keyFilePath); err == nil {
		s.CtrlConfig.Password = strings.TrimSpace(string(pwd))
	} else {
		newPwd, err := auth.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate new control password: %w", err)
		}
		if err := os.MkdirAll(keyFileDir, 0o700); err != nil {
			return fmt.Errorf("failed to create config dir for key file: %w", err)
		}
		if err := os.WriteFile(keyFilePath, []byte(newPwd), 0o600); err != nil {
			return fmt.Errorf("failed to write new control password to file: %w", err)
		}
		s.CtrlConfig.Password = newPwd
		logger.Info("Generated control server password", "path", keyFilePath)
		logger.Info("-------------------------------------")
		logger.Info("Your auricle control server password is:")
		logger.Info("-------------------------------------")
		logger.Info(newPwd)
		logger.Info("-------------------------------------")
		logger.Info("You can change this password at any time by editing the file")
	}

	mem := hostmem.New(s.MemoryMB << 20)
	c, err := card.New(mem, s.CardParams, logger)
	if err != nil {
		return fmt.Errorf("create card: %w", err)
	}
	c.SetLine(card.Loopback{})

	if s.Audible {
		out, err := sink.New(48000, 2)
		if err != nil {
			return fmt.Errorf("open audio backend: %w", err)
		}
		if err := out.Start(); err != nil {
			return fmt.Errorf("start audio backend: %w", err)
		}
		defer out.Close()
		c.SetSink(out)
	}

	regs := regfile.New(c, logger)

	if s.CtrlConfig.Addr == "" {
		logger.Error("Control server address must be set (default :4252).")
		return fmt.Errorf("control server address must be set (default :4252)")
	}

	srv := ctrl.New(c, regs, s.CtrlConfig, logger, rawLogger)
	r := srv.Router()
	r.Register("ping", handler.Ping())
	r.Register("status", handler.Status(c))
	r.Register("reg/{offset}/read", handler.RegRead(regs))
	r.Register("reg/{offset}/write", handler.RegWrite(regs))
	r.RegisterStream("irq/watch", ctrl.IRQStreamHandler())

	if s.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{Addr: s.MetricsAddr, Handler: mux}
		go func() {
			logger.Info("metrics listening", "addr", s.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer metricsSrv.Close()
	}

	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("start card: %w", err)
	}
	defer c.Stop()

	if err := srv.Start(); err != nil {
		logger.Error("failed to start control server", "error", err)
		if util.IsRunFromGUI() {
			fmt.Println("Press any key to exit...")
			var b []byte = make([]byte, 1)
			_, _ = os.Stdin.Read(b)
		}
		return err
	}
	defer srv.Close()

	if util.IsRunFromGUI() {
		go (func() {
			time.Sleep(250 * time.Millisecond)
			util.HideConsoleWindow()
		})()
	}

	<-ctx.Done()
	return nil
}
