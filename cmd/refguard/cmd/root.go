package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aweris/refguard/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "refguard",
	Short: "Ref store guarded by a shared ref database",
	Long: "CLI for updating node-local refs under shared ref database validation, " +
		"auditing them against the shared store and cleaning up deleted projects.",
	SilenceUsage: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ~/.config/refguard/config.yaml)")
	rootCmd.PersistentFlags().StringP("project", "p", "", "project the command applies to")
	rootCmd.PersistentFlags().String("local-path", "", "local ref store root (default: ~/.local/share/refguard/refs)")
	rootCmd.PersistentFlags().String("backend", "", "shared store backend: noop, memory, redis or badger")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("metrics-textfile", "", "write metrics in text format to this file on exit")

	viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
	viper.BindPFlag("local_store.path", rootCmd.PersistentFlags().Lookup("local-path"))
	viper.BindPFlag("shared_store.backend", rootCmd.PersistentFlags().Lookup("backend"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("metrics_textfile", rootCmd.PersistentFlags().Lookup("metrics-textfile"))
}

func initConfig() {
	if cfg := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.AddConfigPath(config.Dir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	config.BindEnv(viper.GetViper())
	config.SetDefaults(viper.GetViper())

	viper.ReadInConfig()
}

func getProject() (string, error) {
	project := viper.GetString("project")
	if project == "" {
		return "", fmt.Errorf("no project given: use --project or %s_PROJECT", config.EnvPrefix)
	}
	return project, nil
}
