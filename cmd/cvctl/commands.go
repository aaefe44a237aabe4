package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cv-screener/internal/app"
	"cv-screener/internal/corpus"
	"cv-screener/internal/rag"
)

type openFunc func(ctx context.Context) (*app.App, error)

func newRootCmd(open openFunc) *cobra.Command {
	root := &cobra.Command{
		Use:          "cvctl",
		Short:        "Manage and query the CV screener",
		SilenceUsage: true,
	}
	root.AddCommand(
		newAskCmd(open),
		newLoadCmd(open),
		newStatsCmd(open),
		newCacheCmd(),
	)
	return root
}

// withApp opens the application, runs the startup checks and closes it
// after fn returns.
func withApp(ctx context.Context, open openFunc, fn func(*app.App) error) (err error) {
	a, err := open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.Background()); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := a.Prepare(ctx); err != nil {
		return err
	}
	return fn(a)
}

func newAskCmd(open openFunc) *cobra.Command {
	var (
		topK      int
		asJSON    bool
		withDebug bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the indexed CVs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			return withApp(cmd.Context(), open, func(a *app.App) error {
				resp, err := a.Engine.AnswerQuestion(cmd.Context(), rag.AskRequest{
					Question: question,
					TopK:     topK,
					Debug:    withDebug,
				}, nil)
				if err != nil {
					return fmt.Errorf("ask failed: %w", err)
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), resp)
				}
				printAnswer(cmd, resp)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of sources (0 uses the configured default)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the full response as JSON")
	cmd.Flags().BoolVar(&withDebug, "debug", false, "include candidate scores and pipeline states")
	return cmd
}

func printAnswer(cmd *cobra.Command, resp rag.AskResponse) {
	cmd.Println(resp.Answer)
	cmd.Println()
	if len(resp.Sources) > 0 {
		cmd.Println("Sources:")
		for i, s := range resp.Sources {
			cmd.Printf("  [%d] %s (%s) %.2f\n", i+1, s.Title, s.URL, s.Score)
		}
	}
	m := resp.Metadata
	cmd.Printf("model=%s retrieved=%d cache_hit=%t degraded=%t\n", m.Model, m.RetrievedCount, m.CacheHit, m.Degraded)
	if len(m.Violations) > 0 {
		cmd.Printf("violations: %s\n", strings.Join(m.Violations, ", "))
	}
}

func newLoadCmd(open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "load <file.json|dir>",
		Short: "Load CVs into the document store and indexes",
		Long: `Loads a JSON array of pre-chunked documents (source_url, title, chunks),
or every markdown CV under a directory, split by section. Only documents whose
content changed since the last load are indexed again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := readInputs(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), open, func(a *app.App) error {
				res, err := a.Loader.Load(cmd.Context(), inputs)
				cmd.Printf("loaded=%d skipped=%d failed=%d chunks=%d\n", res.Loaded, res.Skipped, res.Failed, res.Chunks)
				return err
			})
		},
	}
}

func readInputs(ctx context.Context, path string) ([]corpus.DocumentInput, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return corpus.ReadMarkdownDir(ctx, path, corpus.NewMarkdownSplitter())
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return corpus.ReadInputs(f)
}

func newStatsCmd(open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show document and chunk counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), open, func(a *app.App) error {
				stats, err := a.Loader.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
}

// newCacheCmd talks to a running server, which owns the cache counters.
func newCacheCmd() *cobra.Command {
	var server string
	client := &http.Client{Timeout: 10 * time.Second}

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the answer cache of a running server",
	}
	cmd.PersistentFlags().StringVar(&server, "server", "http://localhost:9000", "API server base URL")

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cache hit and miss counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := call(cmd.Context(), client, http.MethodGet, server+"/api/v1/cache/stats", http.StatusOK)
			if err != nil {
				return err
			}
			cmd.Println(strings.TrimSpace(string(body)))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every cached answer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := call(cmd.Context(), client, http.MethodDelete, server+"/api/v1/cache", http.StatusNoContent); err != nil {
				return err
			}
			cmd.Println("cache cleared")
			return nil
		},
	})
	return cmd
}

func call(ctx context.Context, client *http.Client, method, url string, want int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != want {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
