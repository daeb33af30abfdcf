package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "scenectl",
	Short: "Scenectl is a command line tool for the scenepipe media pipeline",
	Long: `scenectl is the command-line interface for the scenepipe controller.

scenepipe turns a project of scenes into generated media. Every scene gets an
image, a narration track and a short video clip, produced in batches by rate
limited generation providers. Results are cached across jobs by prompt.

Common workflows:

  Estimate cost and duration before submitting:
    scenectl estimate -f project.json

  Submit a project and follow it to completion:
    scenectl submit -f project.json --watch

  Check a job:
    scenectl status <job-id>

  Stream a job's progress events:
    scenectl events <job-id>

Configuration:
  Set the API endpoint via flag, environment variable or config file:
    SCENEPIPE_URL    Controller endpoint (default: http://localhost:6161)`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".scenectl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "SCENEPIPE_VARNAME"
	viper.SetEnvPrefix("SCENEPIPE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.scenectl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "scenepipe controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
}
