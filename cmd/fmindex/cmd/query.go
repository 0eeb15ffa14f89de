package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fmindex/internal/config"
	"github.com/Aman-CERP/fmindex/internal/daemon"
	"github.com/Aman-CERP/fmindex/internal/engine"
	"github.com/Aman-CERP/fmindex/internal/router"
)

func newQueryCmd() *cobra.Command {
	var (
		params     string
		local      bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "query <index> <operation> <query>",
		Short: "Run one query against an index",
		Long: `Query sends one request to the running server, or opens the index
in-process when no server is running or --local is set.

Operations: count, find, locate, reconstruct, get_doc_by_rank.

Examples:
  fmindex query pile count "nature"
  fmindex query pile locate "nature" --params '{"num_occ": 5}'
  fmindex query pile get_doc_by_rank "nature" --params '{"s": 0, "rank": 42}'`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := router.Request{Index: args[0], Operation: args[1], Query: args[2]}
			if params != "" {
				if !json.Valid([]byte(params)) {
					return fmt.Errorf("--params must be a JSON object")
				}
				req.Params = json.RawMessage(params)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			resp, err := runQuery(cmd.Context(), cfg, req, local)
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
					return err
				}
			} else if resp.Status == router.StatusSuccess {
				if err := renderResult(cmd.OutOrStdout(), req, resp.Result); err != nil {
					return err
				}
			}

			if resp.Status != router.StatusSuccess {
				return fmt.Errorf("%s (status %d, code %s)", resp.Error, resp.Status, resp.Code)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&params, "params", "", "Operation parameters as a JSON object")
	cmd.Flags().BoolVar(&local, "local", false, "Open the index in-process instead of using the server")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the full response as JSON")

	return cmd
}

// runQuery prefers the server and falls back to an in-process router when
// the server cannot be reached.
func runQuery(ctx context.Context, cfg *config.Config, req router.Request, local bool) (*router.Response, error) {
	if !local {
		client := daemon.NewClient(daemonConfig(cfg))
		if client.IsRunning() {
			resp, err := client.Query(ctx, req)
			if err == nil {
				return resp, nil
			}
			var rpcErr *daemon.Error
			if errors.As(err, &rpcErr) {
				return nil, err
			}
			slog.Debug("server_query_failed", slog.String("error", err.Error()))
		}
	}
	return queryLocal(ctx, cfg, req)
}

func queryLocal(ctx context.Context, cfg *config.Config, req router.Request) (*router.Response, error) {
	// An unconfigured index is left out so the router reports it.
	indexes := map[string][]engine.ShardConfig{}
	if shards, ok := cfg.IndexShards()[req.Index]; ok {
		indexes[req.Index] = shards
	}
	registry, err := router.OpenRegistry(ctx, indexes, cfg.Server.EngineOptions())
	if err != nil {
		return nil, err
	}
	defer func() { _ = registry.Close() }()

	resp := router.New(registry).Dispatch(ctx, req)
	return &resp, nil
}

var matchStyle = lipgloss.NewStyle().Reverse(true)

// renderResult prints a successful result for a terminal reader.
func renderResult(w io.Writer, req router.Request, result any) error {
	switch req.Operation {
	case "count":
		var res engine.CountResult
		if err := convert(result, &res); err != nil {
			return err
		}
		_, err := fmt.Fprintf(w, "%d\n", res.Count)
		return err

	case "get_doc_by_rank":
		var doc engine.Document
		if err := convert(result, &doc); err != nil {
			return err
		}
		var sb strings.Builder
		for _, span := range doc.Spans {
			if span.Label != nil && *span.Label == engine.MatchLabel {
				sb.WriteString(matchStyle.Render(span.Text))
			} else {
				sb.WriteString(span.Text)
			}
		}
		if _, err := fmt.Fprintf(w, "doc %d (%d of %d bytes shown)\n%s\n", doc.DocIndex, doc.DispLen, doc.DocLen, sb.String()); err != nil {
			return err
		}
		if doc.Metadata != nil {
			return writeJSON(w, doc.Metadata)
		}
		return nil

	default:
		return writeJSON(w, result)
	}
}

// convert copies a result into a typed value. Results from the server
// arrive as generic JSON.
func convert(src, dst any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
