// Package main is the entry point for the llmgate CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/flemzord/llmgate/internal/config"
	"github.com/flemzord/llmgate/internal/privacy"
	"github.com/flemzord/llmgate/pkg/app"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "llmgate",
		Short:         "Routing and resilience core for an LLM agent gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(versionCmd(), startCmd(), configCmd(), scanCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("llmgate %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the gateway with the configured backends",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			logger := newLogger()
			slog.SetDefault(logger)

			ctx := context.Background()
			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			fmt.Printf("Configuration OK (%d backends)\n", len(cfg.Backends))
			for _, b := range cfg.Backends {
				zdr := ""
				if b.ZDR {
					zdr = " [zdr]"
				}
				fmt.Printf("  %s → %s%s\n", b.Name, b.BaseURL, zdr)
			}
			return nil
		},
	})
	return cmd
}

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [prompt]",
		Short: "Classify a prompt and print the scan result as JSON",
		Long: "Classifies the given prompt (or stdin when omitted) against the\n" +
			"configured sensitive patterns and prints the resulting privacy level.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var prompt string
			if len(args) == 1 {
				prompt = args[0]
			} else {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				prompt = string(raw)
			}

			privacyCfg := privacy.DefaultConfig()
			if path, _ := cmd.Flags().GetString("config"); path != "" {
				cfg, err := config.Load(path)
				if err != nil {
					return err
				}
				privacyCfg, err = cfg.Privacy.PrivacyConfig()
				if err != nil {
					return err
				}
			}

			result := privacy.NewScanner(privacyCfg).Scan(prompt)
			out := struct {
				Level             string   `json:"level"`
				SensitiveDetected bool     `json:"sensitive_detected"`
				MatchedPatterns   []string `json:"matched_patterns"`
				Escalated         bool     `json:"escalated"`
			}{
				Level:             result.Level.String(),
				SensitiveDetected: result.SensitiveDetected,
				MatchedPatterns:   result.MatchedPatterns,
				Escalated:         result.Escalated,
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	return cmd
}

// loadConfig resolves, loads, and validates the configuration file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		resolved, err := resolveConfigPath()
		if err != nil {
			return nil, err
		}
		path = resolved
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/llmgate/llmgate.yaml → ./llmgate.yaml
func resolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "llmgate", "llmgate.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "llmgate", "llmgate.yaml"))
	}

	candidates = append(candidates, "llmgate.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
