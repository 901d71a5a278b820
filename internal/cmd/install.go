package cmd

import (
	"log/slog"
	"os"
	"path/filepath"
)

// InstallCmd installs the serve daemon as a system service.
type InstallCmd struct{}

func (i *InstallCmd) Run(logger *slog.Logger) error { return install(logger) }

// UninstallCmd removes the system service.
type UninstallCmd struct{}

func (u *UninstallCmd) Run(logger *slog.Logger) error { return uninstall(logger) }

func currentExecutable() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(exePath)
}
