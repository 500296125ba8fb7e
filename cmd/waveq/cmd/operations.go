package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var operationsCmd = &cobra.Command{
	Use:   "operations",
	Short: "List supported operations",
	Long:  `List the engine's operation catalog with required and optional parameters.`,
	RunE:  runOperations,
}

func init() {
	rootCmd.AddCommand(operationsCmd)
}

func runOperations(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ops, err := apiClient().Operations(ctx)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(ops)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Kind", "Description", "Required", "Defaults")

	for _, op := range ops {
		required := "-"
		if len(op.Required) > 0 {
			required = strings.Join(op.Required, ", ")
		}
		defaults := "-"
		if len(op.Defaults) > 0 {
			encoded, _ := json.Marshal(op.Defaults)
			defaults = string(encoded)
		}
		table.Append(op.Kind, op.Description, required, defaults)
	}

	table.Render()
	fmt.Printf("\nTotal operations: %d\n", len(ops))
	return nil
}
