package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ragworks/docqa/config"
	srv "github.com/ragworks/docqa/internal/server"
)

func main() {
	var root = &cobra.Command{Use: "docqa"}

	var configPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the document QA HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv("DOCQA_CONFIG")
			}
			cfg := config.LoadConfig(configPath)
			return srv.Run(cfg)
		},
	}
	serve.Flags().StringVar(&configPath, "config", "", "path to config file")

	var migDir string
	var direction string
	var steps int
	var dsn string
	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				dsn = os.Getenv("DATABASE_URL")
			}
			return srv.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source (file://migrations)")
	migrate.Flags().StringVar(&dsn, "dsn", "", "postgres DSN (defaults to DATABASE_URL or POSTGRES_* env)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	root.AddCommand(serve, migrate)
	_ = root.Execute()
}
