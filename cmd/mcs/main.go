package main

import (
	"fmt"
	"os"

	"github.com/franz/media-catalog/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "mcs",
		Short: "Media catalog sync - keep a song database in step with its sources",
		Long: `mcs (media catalog sync) maintains a relational catalog of audio files.
It crawls local directories, replicates catalogs offered by peer instances,
re-reads tags of known songs, disables songs whose files vanished and
sweeps orphaned artists, albums and tags.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/mcs.yaml)")
	rootCmd.PersistentFlags().String("db", "mcs.db", "catalog database file")
	rootCmd.PersistentFlags().String("events-dir", "artifacts", "directory for the JSON event log")
	rootCmd.PersistentFlags().String("report", "", "write a Markdown run report to this file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet output (errors only)")

	// Bind flags to viper
	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("events_dir", rootCmd.PersistentFlags().Lookup("events-dir"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))

	setDefaults()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.SetConfigName("mcs")
		viper.SetConfigType("yaml")
	}

	// MCS_DB, MCS_REMOTE_PAGE_SIZE, ...
	viper.SetEnvPrefix("MCS")
	viper.SetEnvKeyReplacer(envReplacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && !viper.GetBool("quiet") {
		util.InfoLog("Using config file: %s", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
