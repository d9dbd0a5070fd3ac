package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/willvelida/m365-sdk-proxy/internal/auth"
	"github.com/willvelida/m365-sdk-proxy/internal/config"
	"github.com/willvelida/m365-sdk-proxy/internal/domain"
)

func newValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the configuration without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				out := cmd.ErrOrStderr()
				if de, ok := domain.AsError(err); ok && len(de.ValidationErrors) > 0 {
					fmt.Fprintf(out, "configuration section %s is invalid:\n", de.ConfigSection)
					for _, msg := range de.ValidationErrors {
						fmt.Fprintf(out, "  - %s\n", msg)
					}
				}
				return fmt.Errorf("configuration is invalid")
			}

			baseURL, err := cfg.Copilot.ResolvedBaseURL()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "configuration is valid")
			fmt.Fprintf(out, "  cloud:    %s\n", cfg.Copilot.CloudSettings().Name)
			fmt.Fprintf(out, "  agent:    %s\n", baseURL)
			fmt.Fprintf(out, "  scope:    %s\n", cfg.Copilot.ResolvedScope())
			fmt.Fprintf(out, "  channel:  %s\n", cfg.Channel.Mode)
			fmt.Fprintf(out, "  storage:  %s\n", cfg.Storage.Type)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ./config.yaml when present)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "m365-proxy %s\n", Version)
		},
	}
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen <api-key>",
		Short: "Print the SHA-256 hash of a channel API key for auth.api_key_hashes",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "SHA-256 Hash: %s\n", auth.HashAPIKey(args[0]))
			fmt.Fprintln(out, "\nAdd this to your config.yaml:")
			fmt.Fprintln(out, "  auth:")
			fmt.Fprintln(out, "    api_key_hashes:")
			fmt.Fprintf(out, "      - %q\n", auth.HashAPIKey(args[0]))
		},
	}
}
