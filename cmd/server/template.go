package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rpattn/fleetload/internal/schema"
	"github.com/rpattn/fleetload/internal/template"
)

func newTemplateCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:       "template <entity-type>",
		Short:     "Write the upload template workbook for an entity type",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"vehicle", "transporter", "warehouse"},
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := schema.DefaultRegistry().Lookup(args[0])
			if err != nil {
				return err
			}
			payload, err := template.Build(desc)
			if err != nil {
				return err
			}
			if output == "" {
				output = template.FileName(desc)
			}
			if err := os.WriteFile(output, payload, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (defaults to <entity-type>_upload_template.xlsx)")
	return cmd
}
