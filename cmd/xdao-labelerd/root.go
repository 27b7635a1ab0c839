package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"xdao.co/labeler/internal/config"
	"xdao.co/labeler/store"

	_ "xdao.co/labeler/store/memstore"
	_ "xdao.co/labeler/store/postgres"
	_ "xdao.co/labeler/store/sqlite"
)

// version is set at build time via -ldflags.
var version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "xdao-labelerd",
	Short: "Signed label log for content moderation",
	Long: `xdao-labelerd signs moderation labels, appends them to a durable
sequenced log and distributes them to subscribers.

Configuration hierarchy (highest to lowest priority):
  1. CLI flags
  2. Environment variables (MODERATION_*)
  3. Config file (--config)
  4. Defaults`,
	SilenceErrors: true,
	SilenceUsage:  true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "xdao-labelerd %s\n", version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration with secrets redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List compiled-in store backends",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range store.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(serveCmd, configCmd, backendsCmd, versionCmd)
	rootCmd.Version = version
}

// loadConfig layers flags set on cmd over the environment, file and defaults.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	v := config.NewViper()
	for flag, key := range map[string]string{
		"host":        "host",
		"port":        "port",
		"grpc-listen": "grpc_listen",
		"log-level":   "log_level",
		"log-format":  "log_format",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return config.Config{}, err
			}
		}
	}
	return config.Load(v, cfgFile)
}
