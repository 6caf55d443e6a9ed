// Package commands implements the CLI commands for billscan.
package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/billscan/billscan/internal/config"
	"github.com/billscan/billscan/internal/llm"
	"github.com/billscan/billscan/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "billscan",
	Short: "LLM-powered line-item extraction from hospital bills",
	Long: `Billscan extracts itemized charges from bill documents using LLMs.

Point it at a PDF or an image of a bill and get back every billable
line item, grouped by page, with quantities, rates, and amounts
validated and cleaned.

Examples:
  # Extract from a local PDF
  billscan process -f bill.pdf

  # Extract from a remote document
  billscan process -u "https://example.com/bill.pdf"

  # Use a specific provider and model
  billscan process -f bill.pdf -p anthropic -m claude-sonnet-4-20250514

  # Run the HTTP API
  billscan serve --port 8080`,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config file (default $HOME/.billscan.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress progress output")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
}

func initConfig() {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".billscan")
		viper.SetConfigType("yaml")
	}

	// Environment variables
	viper.SetEnvPrefix("BILLSCAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// Also check common API key env vars
	_ = viper.BindEnv("api_key", "GEMINI_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY")

	// Read config file (ignore error if not found)
	_ = viper.ReadInConfig()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newProvider builds an LLM provider from the resolved config,
// auto-detecting from environment keys when no provider is set.
func newProvider(cfg config.Config) (llm.Provider, error) {
	name := strings.ToLower(cfg.Provider)
	apiKey := cfg.APIKey
	if name == "" {
		detected, detectedKey := llm.DetectProvider()
		name = detected
		if apiKey == "" {
			apiKey = detectedKey
		}
		logger.Debug("auto-detected provider", "provider", name)
	}

	model := cfg.Model
	if model == "" {
		model = llm.GetDefaultModel(name)
	}

	baseURL := cfg.BaseURL
	if name == "ollama" && baseURL == "" {
		baseURL = cfg.OllamaBaseURL
	}

	pc := llm.DefaultProviderConfig()
	pc.APIKey = apiKey
	pc.BaseURL = baseURL
	pc.Model = model
	return llm.NewProvider(name, pc)
}

// logInfo prints an info message to stderr (unless quiet mode).
func logInfo(format string, args ...any) {
	if !viper.GetBool("quiet") {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
