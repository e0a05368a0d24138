package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/authrules/internal/cache"
	"github.com/ppiankov/authrules/internal/pipeline"
	"github.com/ppiankov/authrules/internal/worker"
)

var (
	outputDir    string
	batchTimeout time.Duration
	batchFormats []string
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Extract rules from many policy documents in parallel",
	Long: `Batch processes many policy documents concurrently:
- Read document sources from a list file (one path or URL per line, # comments)
- Process documents in parallel with a configurable worker count
- Reuse cached reports for documents whose text has not changed
- Write one set of reports per document

Example:
  authrules batch policies.txt
  authrules batch policies.txt --concurrency 8 --output-dir ./reports
  authrules batch policies.txt --format json,jsonl,md --no-cache`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().Int("concurrency", 0, "documents processed at once (default from config)")
	batchCmd.Flags().Bool("no-cache", false, "disable the report cache")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./authrules-reports", "output directory for reports")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 10*time.Minute, "total timeout for batch processing")
	batchCmd.Flags().StringSliceVar(&batchFormats, "format", []string{"json", "md"}, "report formats (json, jsonl, md, html)")
}

func runBatch(cmd *cobra.Command, args []string) (err error) {
	file := args[0]
	ctx, cancel := context.WithTimeout(cmd.Context(), batchTimeout)
	defer cancel()

	if cmd.Flags().Changed("concurrency") {
		n, _ := cmd.Flags().GetInt("concurrency")
		viper.Set("concurrency.batch_workers", n)
	}
	if noCache, _ := cmd.Flags().GetBool("no-cache"); noCache {
		viper.Set("cache.enabled", false)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.close(context.Background()); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	cfg := a.cfg

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", cfg.Concurrency.BatchWorkers)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "  Cache:        %v\n", cfg.Cache.Enabled)
	if cfg.Review.Enabled {
		fmt.Fprintf(os.Stderr, "  Review:       %s/%s\n", cfg.Review.Provider, cfg.Review.Model)
	}
	fmt.Fprintf(os.Stderr, "\n")

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	p := a.pipeline()
	opts := []worker.BatchOption{worker.WithBatchLogger(a.logger)}
	if c := cache.New(cfg.Cache); c != nil {
		opts = append(opts, worker.WithCache(c, worker.Fingerprint(a.table.Fingerprint(), cfg), cfg.Cache.DiskTTL))
	}
	processor := worker.NewBatchProcessor(p, cfg.Concurrency.BatchWorkers, opts...)

	started := time.Now()
	results, err := processor.ProcessFile(ctx, file)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}

	var succeeded, failed, cached, rules, flagged int
	for i, result := range results {
		if result.Error != nil {
			failed++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Source, result.Error)
			continue
		}

		out := batchOutputs(outputDir, fmt.Sprintf("%03d-%s", i+1, sanitizeFilename(result.Source)), batchFormats)
		if err := p.RenderReport(result.Report, out, nil); err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Source, err)
			continue
		}
		if err := a.save(ctx, result.Report, result.Text, started); err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Source, err)
			continue
		}

		succeeded++
		rules += len(result.Report.Rules)
		flagged += len(result.Report.Review)
		suffix := ""
		if result.Cached {
			cached++
			suffix = " (cached)"
		}
		fmt.Fprintf(os.Stderr, "✓ %s: %d rule(s), %d for review%s\n",
			result.Source, len(result.Report.Rules), len(result.Report.Review), suffix)
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:     %d documents\n", len(results))
	fmt.Fprintf(os.Stderr, "  Success:   %d (%d cached)\n", succeeded, cached)
	fmt.Fprintf(os.Stderr, "  Failures:  %d\n", failed)
	fmt.Fprintf(os.Stderr, "  Rules:     %d\n", rules)
	fmt.Fprintf(os.Stderr, "  Review:    %d item(s)\n", flagged)
	fmt.Fprintf(os.Stderr, "  Output:    %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "\n")

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(results))
	}
	return nil
}

// batchOutputs names the report files of one document
func batchOutputs(dir, base string, formats []string) pipeline.Outputs {
	var out pipeline.Outputs
	for _, format := range formats {
		switch strings.ToLower(strings.TrimSpace(format)) {
		case "json":
			out.JSON = filepath.Join(dir, base+".json")
		case "jsonl":
			out.JSONL = filepath.Join(dir, base+".jsonl")
		case "md", "markdown":
			out.Markdown = filepath.Join(dir, base+".md")
		case "html":
			out.HTML = filepath.Join(dir, base+".html")
		}
	}
	return out
}

var filenameReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_", " ", "-",
)

// sanitizeFilename turns a path or URL into a safe file name
func sanitizeFilename(source string) string {
	source = strings.TrimPrefix(source, "https://")
	source = strings.TrimPrefix(source, "http://")
	switch ext := filepath.Ext(source); strings.ToLower(ext) {
	case ".md", ".markdown", ".txt", ".html", ".htm":
		source = strings.TrimSuffix(source, ext)
	}
	s := strings.Trim(filenameReplacer.Replace(source), "._-")
	if s == "" {
		s = "document"
	}
	if len(s) > 100 {
		s = s[len(s)-100:]
	}
	return s
}
