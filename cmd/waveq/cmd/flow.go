package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/waveq/waveq-engine/pkg/flow"
)

var flowFollow bool

var flowCmd = &cobra.Command{
	Use:   "flow",
	Short: "Work with workflow files",
	Long:  `Commands for submitting multi-step edit workflows defined in YAML files.`,
}

var flowRunCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Submit a workflow file",
	Long:  `Parse a workflow file and submit its steps as one edit request.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runFlowRun,
}

var flowCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate a workflow file",
	Long:  `Parse a workflow file and report its steps without submitting anything.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runFlowCheck,
}

func init() {
	rootCmd.AddCommand(flowCmd)
	flowCmd.AddCommand(flowRunCmd)
	flowCmd.AddCommand(flowCheckCmd)

	flowRunCmd.Flags().BoolVar(&flowFollow, "follow", false, "stream status updates until the request finishes")
}

func runFlowRun(cmd *cobra.Command, args []string) error {
	f, err := flow.ParseFile(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := apiClient().Submit(ctx, f.Payload())
	if err != nil {
		return err
	}

	if IsJSONOutput() && !flowFollow {
		return printJSON(req)
	}
	fmt.Printf("Workflow %q submitted as request %s (%d steps)\n", f.Name, req.ID, len(f.Steps))

	if flowFollow {
		return followRequest(req.ID)
	}
	return nil
}

func runFlowCheck(cmd *cobra.Command, args []string) error {
	f, err := flow.ParseFile(args[0])
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(f.Payload())
	}
	fmt.Printf("Workflow %q: %d steps\n", f.Name, len(f.Steps))
	for i, step := range f.Steps {
		name := step.Name
		if name == "" {
			name = "-"
		}
		fmt.Printf("  %d. %-20s %s\n", i+1, step.Type, name)
	}
	return nil
}
