package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"meshcall/native/internal/config"
)

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "meshcall",
		Short: "Full-mesh WebRTC calls from the terminal",
		Long: `meshcall joins a room on a rendezvous relay and opens a direct WebRTC
connection to every other participant. It can also run the relay.

Settings come from flags, MESHCALL_* environment variables, a .env file
and an optional YAML config file, in that order of precedence.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file")

	load := func(flags *pflag.FlagSet) (*viper.Viper, error) {
		return bindFlags(configFile, flags)
	}
	root.AddCommand(newJoinCmd(load), newRelayCmd(load))
	return root
}

// bindFlags loads configuration and lets every flag the user set override it.
// Flag names map to keys by replacing "-" with "_".
func bindFlags(configFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v, err := config.NewViper(configFile)
	if err != nil {
		return nil, err
	}
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "help" || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	if bindErr != nil {
		return nil, bindErr
	}
	return v, nil
}
