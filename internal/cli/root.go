package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/authrules/internal/model"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=..."
var Version = "0.1.0"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "authrules",
	Short: "authrules - prior authorization rules from policy documents",
	Long: `authrules turns insurance policy text (markdown or plain text produced by a
PDF converter) into structured prior authorization rules: which procedure
codes need authorization, under which conditions, and with what confidence.

Extraction is deterministic pattern matching. Text the patterns cannot
resolve is flagged for review rather than guessed at.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "authrules v%s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: $HOME/.authrules/config.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.String("patterns", "", "pattern table override (YAML)")
	flags.String("store", "", "SQLite database to persist results in")
	flags.Bool("review", false, "send needs-review items to the semantic reviewer")
	flags.String("review-provider", "", "semantic review provider (openai, ollama)")
	flags.String("review-model", "", "semantic review model")
	flags.String("review-jsonl", "", "append needs-review items to this JSONL file")
	flags.String("http-proxy", "", "HTTP proxy URL (overrides HTTP_PROXY env var)")
	flags.String("https-proxy", "", "HTTPS proxy URL (overrides HTTPS_PROXY env var)")

	// Bind flags to viper
	for key, flag := range map[string]string{
		"output.verbose":    "verbose",
		"patterns.file":     "patterns",
		"store.path":        "store",
		"review.enabled":    "review",
		"review.provider":   "review-provider",
		"review.model":      "review-model",
		"review.jsonl_path": "review-jsonl",
		"http.http_proxy":   "http-proxy",
		"http.https_proxy":  "https-proxy",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if err := setDefaults(model.DefaultConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading defaults: %v\n", err)
	}

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}
		viper.AddConfigPath(home + "/.authrules")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// AUTHRULES_REVIEW_API_KEY overrides review.api_key, and so on
	viper.SetEnvPrefix("AUTHRULES")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	} else if err != nil && cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
	}
}

// setDefaults registers every key of cfg so env variables can override
// keys the config file does not mention
func setDefaults(cfg model.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return err
	}
	setTree("", tree)

	// omitempty fields never reach the tree
	for _, key := range []string{"review.api_key", "http.http_proxy", "http.https_proxy", "http.no_proxy"} {
		viper.SetDefault(key, "")
	}
	return nil
}

func setTree(prefix string, tree map[string]any) {
	for key, value := range tree {
		if prefix != "" {
			key = prefix + "." + key
		}
		if sub, ok := value.(map[string]any); ok {
			setTree(key, sub)
			continue
		}
		viper.SetDefault(key, value)
	}
}

// loadConfig returns the effective configuration
func loadConfig() (model.Config, error) {
	var cfg model.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Review.APIKey == "" {
		cfg.Review.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Review.BaseURL == "" && strings.EqualFold(cfg.Review.Provider, "ollama") {
		cfg.Review.BaseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	return cfg, nil
}

// newLogger builds the stderr logger: warnings only, everything with --verbose
func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
