package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/billscan/billscan/internal/config"
	"github.com/billscan/billscan/internal/fetch"
	"github.com/billscan/billscan/internal/logger"
	"github.com/billscan/billscan/internal/output"
	"github.com/billscan/billscan/internal/pipeline"
	"github.com/billscan/billscan/internal/render"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Extract line items from a bill document",
	Long: `Process a bill document and extract every billable line item.

The document can be a local file or a URL, in PDF or image form.
Output is the merged per-page item structure with token usage and
per-chunk diagnostics.

Examples:
  # Local PDF to stdout
  billscan process -f bill.pdf

  # Remote document, YAML output to a file
  billscan process -u "https://example.com/bill.pdf" --format yaml -o result.yaml`,
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	flags := processCmd.Flags()

	// Document inputs
	flags.StringP("file", "f", "", "path to a bill document (PDF or image)")
	flags.StringP("url", "u", "", "URL of a bill document")

	// LLM settings
	flags.StringP("provider", "p", "", "LLM provider: gemini, openai, anthropic, ollama (auto-detects from env vars)")
	flags.StringP("model", "m", "", "model name (provider-specific)")
	flags.StringP("api-key", "k", "", "API key (or use env var)")
	flags.String("base-url", "", "custom API base URL")

	// Pipeline settings
	flags.Int("pages-per-chunk", 0, "pages per model call (default 2)")
	flags.IntP("concurrency", "c", 0, "concurrent chunk calls (default 2)")
	flags.Int("max-attempts", 0, "max attempts per chunk (default 3)")

	// Output settings
	flags.StringP("output", "o", "", "output file (default: stdout)")
	flags.String("format", "json", "output format: json, yaml")

	// Bind to viper
	_ = viper.BindPFlag("provider", flags.Lookup("provider"))
	_ = viper.BindPFlag("model", flags.Lookup("model"))
	_ = viper.BindPFlag("api_key", flags.Lookup("api-key"))
	_ = viper.BindPFlag("base_url", flags.Lookup("base-url"))
	_ = viper.BindPFlag("pages_per_chunk", flags.Lookup("pages-per-chunk"))
	_ = viper.BindPFlag("max_concurrent_chunks", flags.Lookup("concurrency"))
	_ = viper.BindPFlag("max_attempts", flags.Lookup("max-attempts"))
}

func runProcess(cmd *cobra.Command, args []string) error {
	logger.Init(logger.Options{
		Debug: viper.GetBool("debug"),
		Quiet: viper.GetBool("quiet"),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	filePath, _ := cmd.Flags().GetString("file")
	docURL, _ := cmd.Flags().GetString("url")
	if (filePath == "") == (docURL == "") {
		return fmt.Errorf("exactly one of --file or --url is required")
	}

	formatStr, _ := cmd.Flags().GetString("format")
	format, err := output.ParseFormat(formatStr)
	if err != nil {
		return err
	}

	var data []byte
	if filePath != "" {
		data, err = os.ReadFile(filePath) //#nosec G304 -- CLI tool reads user-specified input file
		if err != nil {
			return fmt.Errorf("read document: %w", err)
		}
	} else {
		f := fetch.New(fetch.Config{
			Timeout:  cfg.FetchTimeout,
			MaxBytes: cfg.MaxUploadBytes,
		})
		data, err = f.Fetch(ctx, docURL)
		if err != nil {
			return err
		}
	}

	pages, err := render.Render(data, render.Limits{
		MaxPages: cfg.MaxPages,
		MaxBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		return err
	}
	logInfo("Rendered %d page(s) from %s", len(pages), humanize.IBytes(uint64(len(data))))

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}

	orch := pipeline.NewOrchestrator(cfg, provider)
	result, procErr := orch.ProcessDocument(ctx, pages)
	if procErr != nil && len(result.Pages) == 0 {
		return procErr
	}

	outFile := os.Stdout
	if outPath, _ := cmd.Flags().GetString("output"); outPath != "" {
		f, err := os.Create(outPath) //#nosec G304 -- CLI tool writes to user-specified output file
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		outFile = f
	}

	// Same envelope the HTTP API returns, so piped output carries the
	// success flag, token usage, and per-chunk diagnostics.
	if err := output.Write(outFile, format, result.Envelope(procErr)); err != nil {
		return err
	}

	logInfo("Extracted %s item(s) across %d page(s), %s tokens",
		humanize.Comma(int64(result.TotalItemCount)),
		len(result.Pages),
		humanize.Comma(int64(result.Usage.TotalTokens)))

	if procErr != nil {
		return procErr
	}
	if !result.Success {
		logInfo("Warning: some chunks failed; result is partial")
	}
	return nil
}
