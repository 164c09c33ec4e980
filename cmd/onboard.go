package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/san-tian/miniclaw/internal/bootstrap"
	"github.com/san-tian/miniclaw/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Seed the workspace directory with default agent template files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			created, err := bootstrap.EnsureWorkspaceFiles(cfg.WorkspacePath())
			if err != nil {
				return fmt.Errorf("seed workspace: %w", err)
			}
			if len(created) == 0 {
				fmt.Println("workspace already initialized, nothing to seed")
				return nil
			}
			fmt.Printf("seeded %d file(s) in %s:\n", len(created), cfg.WorkspacePath())
			for _, f := range created {
				fmt.Printf("  %s\n", f)
			}
			return nil
		},
	}
}
