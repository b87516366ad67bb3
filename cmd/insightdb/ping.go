package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/programmerrush/InsightDB-api/internal/config"
	"github.com/programmerrush/InsightDB-api/internal/database"
	"github.com/programmerrush/InsightDB-api/internal/database/mysql"
	"github.com/programmerrush/InsightDB-api/internal/database/postgres"
	"github.com/programmerrush/InsightDB-api/internal/logger"
)

var pingFlags struct {
	dialect     string
	host        string
	port        int
	database    string
	user        string
	passwordEnv string
	tls         bool
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test a database connection without saving it",
	Long: `Open one session to a database, read its version and close it.

The password is read from the environment variable named by --password-env
so it never appears in shell history.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := database.ParseDialect(pingFlags.dialect)
		if err != nil {
			return err
		}
		creds := database.Credentials{
			Dialect:  d,
			Host:     pingFlags.host,
			Port:     pingFlags.port,
			Database: pingFlags.database,
			Username: pingFlags.user,
			Password: os.Getenv(pingFlags.passwordEnv),
			TLS:      pingFlags.tls,
		}

		opts := database.DefaultOptions()
		if configPath != "" {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			opts = cfg.Database
		}
		gw := database.NewGateway(opts, logger.Nop(), postgres.New(), mysql.New())

		spinner, _ := pterm.DefaultSpinner.Start("Connecting to " + creds.String())
		res := gw.TestConnection(context.Background(), creds)
		if spinner != nil {
			_ = spinner.Stop()
		}

		if !res.OK {
			pterm.Error.Println(res.Error)
			return fmt.Errorf("connection to %s failed", creds.Addr())
		}
		pterm.Success.Printf("Connected to %s\n", creds.Addr())
		pterm.DefaultBox.
			WithTitle(pterm.NewStyle(pterm.FgCyan, pterm.Bold).Sprint("Server version")).
			WithPadding(1).
			Println(res.Version)
		return nil
	},
}

func init() {
	f := pingCmd.Flags()
	f.StringVar(&pingFlags.dialect, "dialect", "postgresql", "postgresql or mysql")
	f.StringVar(&pingFlags.host, "host", "localhost", "database host")
	f.IntVar(&pingFlags.port, "port", 0, "database port (dialect default when 0)")
	f.StringVar(&pingFlags.database, "database", "", "database name")
	f.StringVar(&pingFlags.user, "user", "", "user name")
	f.StringVar(&pingFlags.passwordEnv, "password-env", "PGPASSWORD", "environment variable holding the password")
	f.BoolVar(&pingFlags.tls, "tls", false, "require TLS")
	_ = pingCmd.MarkFlagRequired("database")
	rootCmd.AddCommand(pingCmd)
}
