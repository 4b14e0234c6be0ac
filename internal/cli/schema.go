package cli

import (
	"fmt"

	"github.com/BenjaminSRussell/listingharvest/internal/extract"
	"github.com/spf13/cobra"
)

var schemaFile string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the detail-page field schema",
	Long: `Print the effective field schema as YAML. Without --schema this is the
built-in schema, a useful starting point for a custom one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, err := extract.LoadSchema(schemaFile)
		if err != nil {
			return err
		}

		data, err := schema.Marshal()
		if err != nil {
			return fmt.Errorf("failed to render schema: %w", err)
		}

		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	schemaCmd.Flags().StringVar(&schemaFile, "schema", "", "Schema file to validate and print")
}
