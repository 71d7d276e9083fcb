package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/accessjwt/forwardauth/internal/config"
	"github.com/accessjwt/forwardauth/internal/logging"
)

// app carries the state shared by the subcommands.
type app struct {
	v          *viper.Viper
	configFile string
	logger     *logrus.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "forwardauth",
		Short: "Cloudflare Access forward-auth sidecar",
		Long: `forwardauth validates Cloudflare Access application tokens for a reverse
proxy's forward-auth subrequest (nginx auth_request).

Configuration is read from flags, FORWARDAUTH_* environment variables
(CF_TEAM_NAME is accepted for the team name) and an optional config file.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (yaml, json or toml)")
	flags.String("team", "", "Cloudflare Access team name")
	flags.String("certs-url", "", "override the certs URL derived from the team name")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.Duration("fetch-timeout", 0, "overall timeout of a key-set fetch (default 30s)")
	flags.Duration("connect-timeout", 0, "connect timeout of a key-set fetch (default 10s)")

	a.v = viper.New()
	config.SetDefaults(a.v)
	bindFlags(a.v, flags, map[string]string{
		config.TeamNameKey:       "team",
		config.CertsURLKey:       "certs-url",
		config.LogLevelKey:       "log-level",
		config.LogFormatKey:      "log-format",
		config.FetchTimeoutKey:   "fetch-timeout",
		config.ConnectTimeoutKey: "connect-timeout",
	})

	rootCmd.AddCommand(newServeCmd(a), newKeysCmd(a), newCheckCmd(a))
	return rootCmd
}

func (a *app) init(cmd *cobra.Command) error {
	if err := config.BindEnv(a.v); err != nil {
		return err
	}
	if a.configFile != "" {
		a.v.SetConfigFile(a.configFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
	}

	logger, err := logging.New(a.v.GetString(config.LogLevelKey), a.v.GetString(config.LogFormatKey), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.logger = logger
	if used := a.v.ConfigFileUsed(); used != "" {
		logger.WithField("file", used).Debug("using config file")
	}
	return nil
}

// bindFlags binds configuration keys to the named flags of fs.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if f := fs.Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

// load reads and validates the configuration.
func (a *app) load() (*config.Config, error) {
	cfg, err := config.Load(a.v)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
