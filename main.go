package main

import (
	"fmt"
	"os"

	"github.com/CrowderSoup/crm-board/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "crm-board",
	Short: "Collaborative CRM board server and terminal client",
	Long: `crm-board serves a shared kanban board of leads with a weekly calendar,
pushing every change to the other people looking at the same board.

The same binary can follow a board or browse the calendar from a terminal.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load environment variables from .env file
		if err := config.LoadDotEnv(envFile); err != nil {
			return err
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		zerolog.SetGlobalLevel(cfg.Level())
		return nil
	},
}

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CRM_CONFIG"), "path to crm.yml")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
