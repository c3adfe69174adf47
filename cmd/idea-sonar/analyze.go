package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joelkehle/idea-sonar/internal/priorartsearch"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [idea text]",
	Short: "Analyze one idea and print the report",
	Long: `Analyze runs the full pipeline once. The idea comes from the arguments,
from --file, or from stdin when neither is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		format, _ := cmd.Flags().GetString("format")
		idea, err := readIdea(args, file, cmd.InOrStdin())
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		ctx, cancelTimeout := context.WithTimeout(ctx, cfg.Server.RequestTimeout)
		defer cancelTimeout()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		out := a.pipeline.RunWithProgress(ctx, idea, func(stage, message string) {
			fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s\n", stage, message)
		})

		w := cmd.OutOrStdout()
		switch format {
		case "json":
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
		default:
			fmt.Fprint(w, priorartsearch.BuildReportMarkdown(out))
		}
		if out.Status == priorartsearch.OutcomeError {
			return fmt.Errorf("analysis failed at %s: %s", out.Metadata.FailedStage, out.Error)
		}
		return nil
	},
}

func readIdea(args []string, file string, stdin io.Reader) (string, error) {
	var raw string
	switch {
	case len(args) > 0:
		raw = strings.Join(args, " ")
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading idea file: %w", err)
		}
		raw = string(b)
	default:
		b, err := io.ReadAll(io.LimitReader(stdin, 1<<20))
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		raw = string(b)
	}
	if strings.TrimSpace(raw) == "" {
		return "", errors.New("idea text is required")
	}
	return raw, nil
}

func init() {
	analyzeCmd.Flags().String("file", "", "read the idea from a file")
	analyzeCmd.Flags().String("format", "markdown", "output format: markdown or json")
	rootCmd.AddCommand(analyzeCmd)
}
