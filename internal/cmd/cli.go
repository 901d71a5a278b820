// Package cmd defines the command line surface: the serve daemon, the tone
// playback utility and the config template generator.
package cmd

// LogConfig groups the logging flags shared by all commands.
type LogConfig struct {
	Level   string `help:"Log level (trace, debug, info, warn, error)" default:"info" env:"AURICLE_LOG_LEVEL"`
	File    string `help:"Also write logs to this file" env:"AURICLE_LOG_FILE"`
	RawFile string `help:"Write raw control-link traffic to this file" env:"AURICLE_LOG_RAW_FILE"`
}

// CLI is the root command structure parsed by kong.
type CLI struct {
	Log    LogConfig `embed:"" prefix:"log."`
	Config string    `help:"Path to a configuration file" env:"AURICLE_CONFIG"`

	Serve     Serve         `cmd:"" help:"Run the virtual card with its control server"`
	Play      Play          `cmd:"" help:"Play a test tone through a local card instance"`
	Status    StatusCmd     `cmd:"" help:"Query a running card over the control link"`
	ConfigCmd ConfigCommand `cmd:"" name:"config" help:"Configuration file utilities"`
	Install   InstallCmd    `cmd:"" help:"Install the serve daemon as a system service"`
	Uninstall UninstallCmd  `cmd:"" help:"Remove the system service"`
}
