package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/waveq/waveq-engine/pkg/models"
	"github.com/waveq/waveq-engine/pkg/status"
)

var (
	// Submit flags
	submitSources     []string
	submitInstruction string
	submitOp          string
	submitParams      []string
	submitPriority    int

	// Status flags
	followStatus bool

	// List flags
	listStatus string
	listClient string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an audio edit request",
	Long: `Submit a new edit request to the engine. Provide either a free-text
instruction, or a single operation via --op and repeated --param key=value
flags. Multi-step requests are submitted with "waveq flow run".`,
	RunE: runSubmit,
}

var statusCmd = &cobra.Command{
	Use:   "status <request-id>",
	Short: "Get request status",
	Long:  `Retrieve the current state of a request by its ID.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List requests",
	Long:  `List requests known to the engine, optionally filtered by status or client id.`,
	RunE:  runList,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <request-id>",
	Short: "Cancel a request",
	Long:  `Request cancellation. Requests that already finished come back unchanged.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <request-id>",
	Short: "Delete a finished request",
	Long:  `Delete a terminal request and its result artifacts.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(deleteCmd)

	submitCmd.Flags().StringSliceVar(&submitSources, "source", nil, "audio source reference (repeatable, required)")
	submitCmd.Flags().StringVar(&submitInstruction, "instruction", "", "free-text edit instruction")
	submitCmd.Flags().StringVar(&submitOp, "op", "", "operation kind (e.g. trim, normalize)")
	submitCmd.Flags().StringArrayVar(&submitParams, "param", nil, "operation parameter as key=value (repeatable)")
	submitCmd.Flags().IntVar(&submitPriority, "priority", 0, "priority tier 1-5, 1 is dispatched first")
	submitCmd.MarkFlagRequired("source")

	statusCmd.Flags().BoolVar(&followStatus, "follow", false, "stream status updates until the request finishes")

	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (queued, processing, completed, error, cancelled)")
	listCmd.Flags().StringVar(&listClient, "client", "", "filter by client id")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	if submitInstruction == "" && submitOp == "" {
		return fmt.Errorf("either --instruction or --op is required")
	}

	payload := &models.SubmitPayload{
		Sources:     submitSources,
		Instruction: submitInstruction,
		Priority:    submitPriority,
	}
	if submitOp != "" {
		params, err := parseParams(submitParams)
		if err != nil {
			return err
		}
		payload.Operation = &models.OperationSpec{
			Kind:       models.OperationKind(submitOp),
			Parameters: params,
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := apiClient().Submit(ctx, payload)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(req)
	}
	renderRequest(req)
	fmt.Printf("\nRequest %s accepted\n", req.ID)
	return nil
}

// parseParams turns key=value pairs into operation parameters. Values that
// parse as JSON keep their type, everything else stays a string.
func parseParams(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}
		var parsed interface{}
		if err := json.Unmarshal([]byte(value), &parsed); err == nil {
			params[key] = parsed
		} else {
			params[key] = value
		}
	}
	return params, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	id := args[0]
	if followStatus {
		return followRequest(id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := apiClient().Get(ctx, id)
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(req)
	}
	renderRequest(req)
	return nil
}

// followRequest consumes the server-sent event stream for one request and
// prints each snapshot until a terminal status arrives.
func followRequest(id string) error {
	url := fmt.Sprintf("%s/api/requests/%s/events", GetServerURL(), id)
	httpReq, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if clientID != "" {
		httpReq.Header.Set("X-Client-ID", clientID)
	}
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to engine API: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d)", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev status.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		printEvent(ev)
		if models.IsTerminal(ev.Status) {
			return nil
		}
	}
	return scanner.Err()
}

func printEvent(ev status.Event) {
	if IsJSONOutput() {
		output, _ := json.Marshal(ev)
		fmt.Println(string(output))
		return
	}
	line := fmt.Sprintf("%s  %s  %s", ev.UpdatedAt.Format("15:04:05.000"), ev.RequestID, ev.Status)
	if ev.CurrentStep != nil {
		line += fmt.Sprintf("  step %d/%d %s", ev.CurrentStep.Index+1, ev.CurrentStep.Total, ev.CurrentStep.Kind)
	}
	if ev.ResultRef != "" {
		line += "  result " + ev.ResultRef
	}
	if ev.Error != nil {
		line += fmt.Sprintf("  error[%s] %s", ev.Error.Code, ev.Error.Message)
	}
	fmt.Println(line)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	requests, err := apiClient().List(ctx, listClient, models.RequestStatus(listStatus))
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(requests)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Client", "Status", "Priority", "Ops", "Step", "Result", "Created")

	for _, req := range requests {
		step := "-"
		if req.CurrentStep != nil {
			step = fmt.Sprintf("%d/%d %s", req.CurrentStep.Index+1, req.CurrentStep.Total, req.CurrentStep.Kind)
		}
		result := "-"
		if req.ResultRef != "" {
			result = req.ResultRef
		} else if req.Error != nil {
			result = "error: " + req.Error.Code
		}
		table.Append(
			req.ID,
			req.ClientID,
			string(req.Status),
			strconv.Itoa(int(req.Priority)),
			strconv.Itoa(len(req.Operations)),
			step,
			result,
			req.CreatedAt.Format("2006-01-02 15:04"),
		)
	}

	table.Render()
	fmt.Printf("\nTotal requests: %d\n", len(requests))
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := apiClient().Cancel(ctx, args[0])
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(req)
	}
	fmt.Printf("Request %s is now %s\n", req.ID, req.Status)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiClient().Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Request %s deleted\n", args[0])
	return nil
}

func renderRequest(req *models.EditRequest) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")

	table.Append("ID", req.ID)
	table.Append("Client", req.ClientID)
	table.Append("Status", string(req.Status))
	table.Append("Priority", strconv.Itoa(int(req.Priority)))
	table.Append("Sources", strings.Join(req.Sources, ", "))
	if req.Instruction != "" {
		table.Append("Instruction", req.Instruction)
	}

	ops := make([]string, len(req.Operations))
	for i, op := range req.Operations {
		ops[i] = string(op.Kind)
	}
	table.Append("Operations", strings.Join(ops, " -> "))

	if req.CurrentStep != nil {
		table.Append("Current Step", fmt.Sprintf("%d/%d %s", req.CurrentStep.Index+1, req.CurrentStep.Total, req.CurrentStep.Kind))
	}
	if req.ResultRef != "" {
		table.Append("Result", req.ResultRef)
	}
	if req.Error != nil {
		table.Append("Error", fmt.Sprintf("[%s] %s (op %d)", req.Error.Code, req.Error.Message, req.Error.OpIndex))
	}
	if req.ProcessingMS > 0 {
		table.Append("Processing", fmt.Sprintf("%.1fms", req.ProcessingMS))
	}

	table.Append("Created At", req.CreatedAt.Format(time.RFC3339))
	if req.StartedAt != nil {
		table.Append("Started At", req.StartedAt.Format(time.RFC3339))
	}
	if req.CompletedAt != nil {
		table.Append("Completed At", req.CompletedAt.Format(time.RFC3339))
	}

	table.Render()
}
