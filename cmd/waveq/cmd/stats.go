package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

var statsMetrics bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show engine statistics",
	Long:  `Show dispatch queue depths, and with --metrics the engine's counters parsed from its metrics endpoint.`,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&statsMetrics, "metrics", false, "include engine counters from the metrics endpoint")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	depth, total, err := apiClient().QueueStats(ctx)
	if err != nil {
		return err
	}

	if IsJSONOutput() && !statsMetrics {
		return printJSON(map[string]interface{}{
			"depth_by_priority": depth,
			"total":             total,
		})
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Priority", "Queued")

	tiers := make([]string, 0, len(depth))
	for tier := range depth {
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)
	for _, tier := range tiers {
		table.Append(tier, strconv.Itoa(depth[tier]))
	}

	table.Render()
	fmt.Printf("\nTotal queued: %d\n", total)

	if statsMetrics {
		fmt.Println()
		return renderMetrics(ctx)
	}
	return nil
}

// renderMetrics fetches the Prometheus exposition text and prints the
// engine's own metric families.
func renderMetrics(ctx context.Context) error {
	raw, err := apiClient().Metrics(ctx)
	if err != nil {
		return err
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("parse metrics: %w", err)
	}

	names := make([]string, 0, len(families))
	for name := range families {
		if strings.HasPrefix(name, "waveq_") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Metric", "Labels", "Value")

	for _, name := range names {
		for _, m := range families[name].GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			labelText := "-"
			if len(labels) > 0 {
				labelText = strings.Join(labels, ", ")
			}

			var value float64
			switch {
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				value = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				value = float64(m.GetHistogram().GetSampleCount())
				if labelText == "-" {
					labelText = "samples"
				} else {
					labelText += " samples"
				}
			default:
				continue
			}
			table.Append(name, labelText, strconv.FormatFloat(value, 'f', -1, 64))
		}
	}

	table.Render()
	return nil
}
