package cli

import (
	"github.com/spf13/cobra"

	"github.com/tenantstack/tenantstack/internal/config"
)

var cfgFile string

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenantstack",
		Short: "Multi-tenant SaaS backend with org-scoped auth and API keys",
		Long: `TenantStack: a multi-tenant backend for organizations, users, projects,
and machine API keys.

Users register into organizations, hold one of three roles (ADMIN, MANAGER,
EMPLOYEE), and authenticate with short-lived bearer tokens. Organizations
issue long-lived API keys for machine access. Every tenant sees only its own
data.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./tenantstack.yaml)")

	cobra.OnInitialize(func() { config.Init(cfgFile) })

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newUserCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}
