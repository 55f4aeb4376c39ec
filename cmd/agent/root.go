package main

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newEnv returns a viper bound to CALLRELAY_* variables. Each command gets
// its own so flags sharing a name do not overwrite each other's binding.
func newEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("CALLRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func newRootCmd() *cobra.Command {
	v := newEnv()

	rootCmd := &cobra.Command{
		Use:          "agent",
		Short:        "Call relay participant: join a call or mint dev tokens",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			lvl, err := zerolog.ParseLevel(v.GetString("log-level"))
			if err != nil {
				return err
			}
			zerolog.SetGlobalLevel(lvl)
			return nil
		},
	}
	rootCmd.PersistentFlags().String("log-level", "info", "log level")
	_ = v.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(
		newConnectCmd(),
		newMintTokenCmd(),
	)
	return rootCmd
}
