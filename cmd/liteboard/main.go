// Command liteboard runs the sync data layer for the collaborative issue
// tracker: an embedded-SQLite versioned store behind pull/push endpoints,
// with websocket pokes telling clients when to pull.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "liteboard",
	Short: "Sync server for the liteboard issue tracker",
	Long: `liteboard serves the synchronization data layer for a collaborative
issue tracker: versioned key/value spaces with cursor-based incremental
pull, client mutation push, and websocket pokes.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./liteboard.yaml)")
	rootCmd.PersistentFlags().String("db", "liteboard.db", "path to the SQLite database")
	_ = viper.BindPFlag("db.path", rootCmd.PersistentFlags().Lookup("db"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(statusCmd)
}

// initConfig loads configuration from file, environment and flags, in
// increasing precedence.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("liteboard")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
	}

	viper.SetEnvPrefix("LITEBOARD")
	viper.AutomaticEnv()

	viper.SetDefault("port", 8080)
	viper.SetDefault("db.path", "liteboard.db")
	viper.SetDefault("seed.templateSpace", "seed")
	viper.SetDefault("pull.pageLimit", 3000)
	viper.SetDefault("log.file", "")

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
