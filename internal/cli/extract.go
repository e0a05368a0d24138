package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/authrules/internal/pipeline"
)

var (
	outJSON        string
	outJSONL       string
	outMD          string
	outHTML        string
	extractTimeout time.Duration
)

// extractCmd represents the extract command
var extractCmd = &cobra.Command{
	Use:   "extract <source>",
	Short: "Extract authorization rules from one policy document",
	Long: `Extract reads one policy document and:
- Splits it into structural chunks
- Classifies chunks and finds procedure, diagnosis and state codes
- Resolves exceptions (age, geography, diagnosis) and authorization state
- Assembles scored rules and flags anything ambiguous for review

The source is a file path, an http(s) URL, or "-" for stdin.

Example:
  authrules extract policy.md --json rules.json
  authrules extract policy.md --jsonl rules.jsonl --md audit.md
  authrules extract https://example.com/policy.md --html audit.html
  cat policy.md | authrules extract - --json -`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	// Output flags, "-" writes to stdout
	extractCmd.Flags().StringVar(&outJSON, "json", "", "output JSON report path")
	extractCmd.Flags().StringVar(&outJSONL, "jsonl", "", "output JSONL rule records path")
	extractCmd.Flags().StringVar(&outMD, "md", "", "output Markdown audit report path")
	extractCmd.Flags().StringVar(&outHTML, "html", "", "output HTML audit report path")
	extractCmd.Flags().DurationVar(&extractTimeout, "timeout", 2*time.Minute, "overall timeout")
}

func runExtract(cmd *cobra.Command, args []string) (err error) {
	source := args[0]
	ctx, cancel := context.WithTimeout(cmd.Context(), extractTimeout)
	defer cancel()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.close(context.Background()); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if a.cfg.Output.Verbose {
		fmt.Fprintf(os.Stderr, "Extracting: %s\n", source)
	}

	p := a.pipeline()
	started := time.Now()
	result, err := p.Run(ctx, source)
	if err != nil {
		return fmt.Errorf("extract failed: %w", err)
	}

	if err := a.save(ctx, result.Report, result.Text, started); err != nil {
		return err
	}

	out := pipeline.Outputs{JSON: outJSON, JSONL: outJSONL, Markdown: outMD, HTML: outHTML}
	if err := p.RenderReport(result.Report, out, summaryWriter(out)); err != nil {
		return fmt.Errorf("render failed: %w", err)
	}
	return nil
}

// summaryWriter keeps stdout clean when a report is written there
func summaryWriter(out pipeline.Outputs) io.Writer {
	for _, path := range []string{out.JSON, out.JSONL, out.Markdown, out.HTML} {
		if path == "-" {
			return os.Stderr
		}
	}
	return os.Stdout
}
