package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yourorg/vulnscan/internal/cache"
	"github.com/yourorg/vulnscan/internal/config"
	"github.com/yourorg/vulnscan/internal/filter"
	"github.com/yourorg/vulnscan/internal/llm"
	"github.com/yourorg/vulnscan/internal/metrics"
	"github.com/yourorg/vulnscan/internal/scanner"
	"github.com/yourorg/vulnscan/pkg/types"
)

const defaultConfigContent = `llm:
  provider: "openai"
  api_key: ""
  base_url: "https://api.openai.com/v1"
  model: "gpt-4o"
  max_tokens: 4096
  temperature: 0.1

batch:
  min_batch_size: 2
  max_batch_size: 10
  target_tokens_per_batch: 4000
  max_tokens_per_batch: 6000
  group_by_language: true
  group_by_complexity: false
  max_concurrent_batches: 3
  max_file_chars: 12000

resilience:
  failure_threshold: 5
  recovery_timeout_seconds: 60
  max_retry_attempts: 3
  base_delay_seconds: 1
  max_delay_seconds: 30
  llm_timeout_seconds: 120
  builtin_retry_providers:
    - anthropic
    - bedrock

cache:
  disabled: false
  ttl_hours: 24
  max_entries: 4096

filter:
  ignore_extensions:
    - .png
    - .jpg
    - .jpeg
    - .gif
    - .svg
    - .ico
    - .woff
    - .woff2
    - .zip
    - .tar
    - .gz
    - .pdf
    - .lock
    - .map
  ignore_dirs:
    - node_modules
    - vendor
    - dist
    - build
    - __pycache__
    - .git

log:
  level: "info"
`

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:   "vulnscan",
		Short: "LLM-backed security vulnerability scanner",
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path")

	root.AddCommand(newInitCmd())
	root.AddCommand(newScanCmd(&cfgPath))
	root.AddCommand(newCacheCmd(&cfgPath))

	return root
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize ~/.vulnscan directory and default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			baseDir := filepath.Join(home, ".vulnscan")
			if err := os.MkdirAll(baseDir, 0o755); err != nil {
				return err
			}

			cfgFile := filepath.Join(baseDir, "config.yaml")
			if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(cfgFile, []byte(defaultConfigContent), 0o644); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "created", cfgFile)
			} else if err == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "exists", cfgFile)
			} else {
				return err
			}

			dbPath := filepath.Join(baseDir, "cache.db")
			s, err := cache.NewSQLiteStore(dbPath, nil)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.Init(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cache ready", dbPath)
			fmt.Fprintln(cmd.OutOrStdout(), "please update llm.api_key in", cfgFile)
			return nil
		},
	}
}

func newScanCmd(cfgPath *string) *cobra.Command {
	var recursive, noCache bool
	var maxFindings int
	var format, output string

	cmd := &cobra.Command{
		Use:   "scan [path...]",
		Short: "Analyze files or directories for security vulnerabilities",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if err := cfg.ValidateScan(); err != nil {
				return err
			}
			logger := newLogger(cfg.Log.Level)

			store := openCache(cfg, noCache, logger)
			if closer, ok := store.(*cache.SQLiteStore); ok {
				defer closer.Close()
			}

			client := &llm.HTTPClient{
				BaseURL:      cfg.LLM.BaseURL,
				APIKey:       cfg.LLM.APIKey,
				ModelName:    cfg.LLM.Model,
				ProviderName: cfg.LLM.Provider,
				Logger:       logger,
			}
			s := scanner.New(cfg, client, store, metrics.LogCollector{Logger: logger}, logger)

			var report *types.ScanReport
			if len(args) == 1 {
				if info, statErr := os.Stat(args[0]); statErr == nil && info.IsDir() {
					report, err = s.AnalyzeDirectory(cmd.Context(), args[0], recursive, maxFindings)
					if err != nil {
						return err
					}
				}
			}
			if report == nil {
				paths, err := expandArgs(args, recursive, cfg.Filter)
				if err != nil {
					return err
				}
				report, err = s.AnalyzeFiles(cmd.Context(), paths, maxFindings)
				if err != nil {
					return err
				}
			}

			return writeReport(cmd, report, format, output)
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", true, "descend into subdirectories")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the response cache")
	cmd.Flags().IntVar(&maxFindings, "max-findings", 0, "cap findings per file, 0 for unlimited")
	cmd.Flags().StringVar(&format, "format", "markdown", "report format: markdown or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the report to a file instead of stdout")
	return cmd
}

func newCacheCmd(cfgPath *string) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Remove expired cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			s, err := cache.NewSQLiteStore(cfg.Cache.Path, newLogger(cfg.Log.Level))
			if err != nil {
				return err
			}
			defer s.Close()
			n, err := s.Purge()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired entries\n", n)
			return nil
		},
	})
	return cacheCmd
}

// expandArgs resolves scan arguments into concrete file paths: directory
// arguments walk through the filter into their eligible files, plain files
// pass through. Missing paths are an error.
func expandArgs(args []string, recursive bool, cfg config.FilterConfig) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", arg, err)
		}
		if info.IsDir() {
			files, err := filter.Walk(arg, recursive, cfg)
			if err != nil {
				return nil, fmt.Errorf("walk %s: %w", arg, err)
			}
			paths = append(paths, files...)
			continue
		}
		paths = append(paths, arg)
	}
	return paths, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// openCache picks the best available cache backend. A broken sqlite file
// degrades to an in-memory cache rather than failing the scan.
func openCache(cfg *config.Config, noCache bool, logger *slog.Logger) cache.Cache {
	if noCache || cfg.Cache.Disabled {
		return cache.Nop{}
	}
	s, err := cache.NewSQLiteStore(cfg.Cache.Path, logger)
	if err == nil {
		if err = s.Init(); err == nil {
			return s
		}
		_ = s.Close()
	}
	logger.Warn("response cache unavailable, using in-memory cache", "path", cfg.Cache.Path, "error", err)
	return cache.NewMemoryCache(cfg.Cache.MaxEntries)
}

func writeReport(cmd *cobra.Command, report *types.ScanReport, format, output string) error {
	var body string
	switch strings.ToLower(format) {
	case "json":
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		body = string(data) + "\n"
	case "markdown", "md":
		body = scanner.RenderMarkdown(report)
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	if output == "" {
		fmt.Fprint(cmd.OutOrStdout(), body)
		return nil
	}
	if err := os.WriteFile(output, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "report written to", output)
	return nil
}
