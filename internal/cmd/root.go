// Package cmd implements the loopbridge command line.
package cmd

import (
	"errors"
	"strings"

	"github.com/joeycumines/go-loopbridge/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the command tree, with its own configuration.
func NewRootCommand() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "loopbridge",
		Short: "Drive a main context from a reactor loop",
		Long: `loopbridge runs a priority source scheduler on top of a callback-driven
reactor loop, with every descriptor watched by the reactor's native poller,
or probed out of band when the poller cannot watch it.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v)
		},
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is ./loopbridge.yaml, if present)")
	flags.String("log-format", "", "log format: "+strings.Join(config.Formats, ", "))
	flags.String("log-level", "", "log level, as a syslog keyword")
	_ = v.BindPFlag("config", flags.Lookup("config"))
	_ = v.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))

	root.AddCommand(newRunCommand(v))

	return root
}

func initConfig(v *viper.Viper) error {
	config.SetDefaults(v)

	v.SetEnvPrefix("LOOPBRIDGE")
	// e.g. LOOPBRIDGE_LOOP_HEARTBEAT for loop.heartbeat
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		return v.ReadInConfig()
	}

	v.SetConfigName("loopbridge")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
	}
	return nil
}
