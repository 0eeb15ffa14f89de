package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fmindex/internal/output"
	"github.com/Aman-CERP/fmindex/internal/telemetry"
)

// statsReport is the --json form of `fmindex stats`.
type statsReport struct {
	From       string                            `json:"from"`
	To         string                            `json:"to"`
	Operations []telemetry.OpCount               `json:"operations"`
	Latency    map[telemetry.LatencyBucket]int64 `json:"latency"`
	TopQueries []telemetry.QueryCount            `json:"top_queries"`
	ZeroResult []string                          `json:"zero_result_queries"`
}

// latencyOrder lists histogram buckets fastest first.
var latencyOrder = []struct {
	bucket telemetry.LatencyBucket
	label  string
}{
	{telemetry.BucketP1, "< 1ms"},
	{telemetry.BucketP10, "1-10ms"},
	{telemetry.BucketP100, "10-100ms"},
	{telemetry.BucketP500, "100-500ms"},
	{telemetry.BucketP1000, ">= 500ms"},
}

func newStatsCmd() *cobra.Command {
	var (
		days       int
		top        int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show query telemetry recorded by the server",
		Long: `Stats reads the telemetry database the server flushes to and reports
query counts per index, operation and status, the latency histogram, the
most frequent queries and recent queries that matched nothing.

All telemetry stays on this machine.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path := cfg.Server.TelemetryDB
			out := output.New(cmd.OutOrStdout())
			if path == "" {
				out.Warning("Telemetry is disabled (server.telemetry_db is empty)")
				return nil
			}
			if _, err := os.Stat(path); os.IsNotExist(err) {
				out.Status("", "No telemetry recorded yet")
				return nil
			}

			report, err := loadStats(path, days, top)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			renderStats(out, report)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "Days of daily counters to include, today included")
	cmd.Flags().IntVar(&top, "top", 10, "Number of frequent and zero-result queries to list")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func loadStats(path string, days, top int) (*statsReport, error) {
	if days < 1 || top < 1 {
		return nil, fmt.Errorf("--days and --top must be positive")
	}
	store, err := telemetry.OpenSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	now := time.Now()
	r := &statsReport{
		From: now.AddDate(0, 0, 1-days).Format(time.DateOnly),
		To:   now.Format(time.DateOnly),
	}
	if r.Operations, err = store.GetOperationCounts(r.From, r.To); err != nil {
		return nil, err
	}
	if r.Latency, err = store.GetLatencyCounts(r.From, r.To); err != nil {
		return nil, err
	}
	if r.TopQueries, err = store.GetTopQueries(top); err != nil {
		return nil, err
	}
	if r.ZeroResult, err = store.GetZeroResultQueries(top); err != nil {
		return nil, err
	}
	return r, nil
}

func renderStats(out *output.Writer, r *statsReport) {
	var total int64
	rows := make([][]string, 0, len(r.Operations))
	for _, op := range r.Operations {
		total += op.Count
		rows = append(rows, []string{op.Index, op.Operation, op.Status, strconv.FormatInt(op.Count, 10)})
	}
	out.Successf("%d queries from %s to %s", total, r.From, r.To)
	if total == 0 {
		return
	}

	out.Section("Operations")
	out.Table([]string{"Index", "Operation", "Status", "Count"}, rows)

	out.Section("Latency")
	var latency [][]string
	for _, b := range latencyOrder {
		if n := r.Latency[b.bucket]; n > 0 {
			latency = append(latency, []string{b.label, strconv.FormatInt(n, 10)})
		}
	}
	out.Table([]string{"Latency", "Count"}, latency)

	if len(r.TopQueries) > 0 {
		out.Section("Top queries")
		queries := make([][]string, len(r.TopQueries))
		for i, q := range r.TopQueries {
			queries[i] = []string{strconv.Quote(q.Query), strconv.FormatInt(q.Count, 10)}
		}
		out.Table([]string{"Query", "Count"}, queries)
	}

	if len(r.ZeroResult) > 0 {
		out.Section("Recent zero-result queries")
		for _, q := range r.ZeroResult {
			out.Status("", strconv.Quote(q))
		}
	}
}
