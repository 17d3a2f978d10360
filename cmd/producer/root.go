package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "producer",
	Short: "producer sends sample messages through the sociably API server.",
	Long:  `A small CLI for exercising a running API server: it posts sends, waits for their outcomes and reads the outcome journal.`,
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "API server base URL")

	if err := viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server")); err != nil {
		slog.Error("Error binding flag", "error", err)
		os.Exit(1)
	}
}

// initConfig reads SOCIABLY_* environment variables.
func initConfig() {
	viper.SetEnvPrefix("SOCIABLY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func baseURL() string {
	return strings.TrimRight(viper.GetString("server"), "/")
}
