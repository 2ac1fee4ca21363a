package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/caretrust/internal/scorecfg"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect service and scoring configuration",
	}
	cmd.AddCommand(configValidateCmd())
	cmd.AddCommand(configShowCmd())
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [scoring.yaml]",
		Short: "Compile and validate a scoring configuration",
		Long: `Compile and validate a scoring configuration document. Without an
argument the embedded default regime is checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			cfg, err := scorecfg.Load(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "scoring configuration %s is valid\n", cfg.Version)
			for _, c := range cfg.Categories {
				fmt.Fprintf(out, "  %-24s weight %.2f  features %d\n", c.Name, c.Weight, len(c.Features))
			}
			fmt.Fprintf(out, "  penalties %d  bands %d  validity %s\n", len(cfg.Penalties), len(cfg.Bands), cfg.Validity)
			return nil
		},
	}
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective service configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			redact(&cfg.Repository.PostgresPassword)
			redact(&cfg.Repository.PostgresDSN)
			redact(&cfg.Cache.RedisPassword)
			redact(&cfg.EventBus.NATSToken)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
}

func redact(s *string) {
	if *s != "" {
		*s = "********"
	}
}
