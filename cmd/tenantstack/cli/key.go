package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tenantstack/tenantstack/internal/store"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "List and revoke an organization's API keys directly against the store, bypassing the HTTP API.",
	}

	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var orgSlug string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an organization's API keys",
		Example: `  tenantstack key list --org acme
  tenantstack key list --org acme-corp`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(cmd, orgSlug)
		},
	}

	cmd.Flags().StringVar(&orgSlug, "org", "", "Organization slug (required)")
	cmd.MarkFlagRequired("org")

	return cmd
}

func runKeyList(cmd *cobra.Command, orgSlug string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()

	org, err := st.GetOrganizationBySlug(ctx, orgSlug)
	if err != nil {
		return fmt.Errorf("organization %q not found", orgSlug)
	}

	keys, err := st.ListAPIKeys(ctx, org.ID)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if len(keys) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No API keys for organization %q.\n", org.Name)
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tACTIVE\tEXPIRES\tLAST USED\tCREATED")
	for _, k := range keys {
		expires := "-"
		if k.ExpiresAt != nil {
			expires = k.ExpiresAt.Format(time.RFC3339)
		}
		lastUsed := "never"
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\n",
			k.ID, k.Name, k.IsActive, expires, lastUsed, k.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	var orgSlug string

	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Long:  "Deactivate a key permanently. A revoked key stops authenticating immediately and cannot be reactivated.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(cmd, orgSlug, args[0])
		},
	}

	cmd.Flags().StringVar(&orgSlug, "org", "", "Organization slug (required)")
	cmd.MarkFlagRequired("org")

	return cmd
}

func runKeyRevoke(cmd *cobra.Command, orgSlug, keyID string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()

	org, err := st.GetOrganizationBySlug(ctx, orgSlug)
	if err != nil {
		return fmt.Errorf("organization %q not found", orgSlug)
	}

	if err := st.RevokeAPIKey(ctx, org.ID, keyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no active key %q in organization %q", keyID, orgSlug)
		}
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "API key %s revoked.\n", keyID)
	return nil
}
