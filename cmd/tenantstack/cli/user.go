package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tenantstack/tenantstack/internal/auth"
	"github.com/tenantstack/tenantstack/internal/model"
	"github.com/tenantstack/tenantstack/internal/store"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
		Long:  "Create users and inspect organization membership directly against the store.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserSetOwnerCmd())

	return cmd
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		email    string
		orgName  string
		roleName string
		newOrg   bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		Long: `Create a user without going through the HTTP registration flow. The
password is prompted for interactively and never echoed. With --new-org the
organization is created and the user becomes its ADMIN owner.`,
		Example: `  tenantstack user create --email founder@acme.com --org "Acme" --new-org
  tenantstack user create --email dev@acme.com --org "Acme" --role MANAGER`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(cmd, email, orgName, roleName, newOrg)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "User email (required)")
	cmd.Flags().StringVar(&orgName, "org", "", "Organization name (required)")
	cmd.Flags().StringVar(&roleName, "role", "EMPLOYEE", "Role when joining an existing organization (ADMIN, MANAGER, EMPLOYEE)")
	cmd.Flags().BoolVar(&newOrg, "new-org", false, "Create the organization and make this user its ADMIN owner")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("org")

	return cmd
}

func runUserCreate(cmd *cobra.Command, email, orgName, roleName string, newOrg bool) error {
	email = strings.ToLower(strings.TrimSpace(email))

	role, err := model.ParseRole(strings.ToUpper(roleName))
	if err != nil {
		return err
	}
	if newOrg {
		role = model.RoleAdmin
	}

	password, err := promptPassword()
	if err != nil {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	slug := model.Slugify(orgName)

	var org *model.Organization
	if newOrg {
		org = &model.Organization{Name: orgName, Slug: slug}
	} else {
		org, err = st.GetOrganizationBySlug(ctx, slug)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("organization %q not found; pass --new-org to create it", orgName)
			}
			return fmt.Errorf("look up organization: %w", err)
		}
	}

	user := &model.User{Email: email, PasswordHash: hash, Role: role}
	if err := st.RegisterUser(ctx, user, org); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("a user with email %q already exists", email)
		}
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "User %s created in organization %q with role %s.\n",
		email, org.Name, role)
	return nil
}

// promptPassword reads the password twice from the terminal without echo.
func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("password prompt requires an interactive terminal")
	}

	fmt.Fprint(os.Stderr, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}

	fmt.Fprint(os.Stderr, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}

	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	if len(first) < 8 {
		return "", errors.New("password must be at least 8 characters")
	}
	return string(first), nil
}

// ---------- user set-owner ----------

func newUserSetOwnerCmd() *cobra.Command {
	var (
		orgSlug string
		email   string
	)

	cmd := &cobra.Command{
		Use:   "set-owner",
		Short: "Transfer organization ownership",
		Long: `Make another member the organization owner. The owner cannot be deleted
through the user-management API, so ownership must be transferred before the
current owner's account can be removed.`,
		Example: `  tenantstack user set-owner --org acme --email successor@acme.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserSetOwner(cmd, orgSlug, email)
		},
	}

	cmd.Flags().StringVar(&orgSlug, "org", "", "Organization slug (required)")
	cmd.Flags().StringVar(&email, "email", "", "Email of the new owner (required)")
	cmd.MarkFlagRequired("org")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runUserSetOwner(cmd *cobra.Command, orgSlug, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

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

	user, err := st.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no user with email %q", email)
		}
		return fmt.Errorf("look up user: %w", err)
	}
	if user.OrganizationID != org.ID {
		return fmt.Errorf("user %q does not belong to organization %q", email, orgSlug)
	}
	if org.OwnerID == user.ID {
		return fmt.Errorf("user %q already owns organization %q", email, orgSlug)
	}

	if err := st.SetOrganizationOwner(ctx, org.ID, user.ID); err != nil {
		return fmt.Errorf("set organization owner: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Organization %q is now owned by %s.\n", org.Name, email)
	return nil
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var orgSlug string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an organization's users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(cmd, orgSlug)
		},
	}

	cmd.Flags().StringVar(&orgSlug, "org", "", "Organization slug (required)")
	cmd.MarkFlagRequired("org")

	return cmd
}

func runUserList(cmd *cobra.Command, orgSlug string) error {
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

	users, err := st.ListUsersByOrganization(ctx, org.ID)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	for _, u := range users {
		owner := ""
		if u.ID == org.OwnerID {
			owner = " (owner)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s%s\n", u.ID, u.Email, u.Role, owner)
	}
	return nil
}
