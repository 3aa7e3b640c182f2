package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rpattn/fleetload/internal/db"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply every pending migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, logger, err := loadRuntime()
				if err != nil {
					return err
				}
				defer func() { _ = logger.Sync() }()
				return db.RunMigrations(cfg.Database, logger)
			},
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back migrations (default 1)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n <= 0 {
						return fmt.Errorf("steps must be a positive integer, got %q", args[0])
					}
					steps = n
				}
				cfg, logger, err := loadRuntime()
				if err != nil {
					return err
				}
				defer func() { _ = logger.Sync() }()
				return db.RollbackMigrations(cfg.Database, steps, logger)
			},
		},
	)
	return cmd
}
