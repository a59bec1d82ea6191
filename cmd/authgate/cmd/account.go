package cmd

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ftmatch/authgate/account"
	"github.com/ftmatch/authgate/config"
)

var (
	importFile     string
	passwdEmail    string
	passwdPassword string
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage accounts in the configured storage backend",
}

var accountImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Create accounts from a YAML seed file",
	Long: `Import reads a YAML document of the form

  accounts:
    - email: user@example.com
      password: secret
      role: teacher      # teacher | company
      region: jp         # optional
      role_id: 1001      # optional, generated when omitted

Existing accounts are skipped, never overwritten.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if importFile == "" {
			return errors.New("--file is required")
		}
		return withAccounts(cmd.Context(), func(cfg config.Config, logger *slog.Logger, store *account.Store, hasher *account.Hasher) error {
			res, err := importSeedFile(cmd.Context(), store, hasher, cfg, importFile, logger)
			out := cmd.OutOrStdout()
			for _, a := range res.Created {
				fmt.Fprintf(out, "created %s (%s, role_id %d)\n", a.Email, a.Role, a.RoleID)
			}
			for _, email := range res.Skipped {
				fmt.Fprintf(out, "skipped %s (exists)\n", email)
			}
			return err
		})
	},
}

var accountPasswdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Reset an account password",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if passwdEmail == "" || passwdPassword == "" {
			return errors.New("--email and --password are required")
		}
		return withAccounts(cmd.Context(), func(_ config.Config, _ *slog.Logger, store *account.Store, hasher *account.Hasher) error {
			if err := account.NewRotator(store, hasher).SetPassword(cmd.Context(), passwdEmail, passwdPassword); err != nil {
				return fmt.Errorf("resetting password for %s: %w", passwdEmail, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password updated for %s\n", passwdEmail)
			return nil
		})
	},
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts, ordered by role id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withAccounts(cmd.Context(), func(_ config.Config, _ *slog.Logger, store *account.Store, _ *account.Hasher) error {
			accounts, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			slices.SortFunc(accounts, func(a, b account.Account) int { return cmp.Compare(a.RoleID, b.RoleID) })

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ROLE ID\tROLE\tEMAIL\tREGION\tCREATED (UTC)")
			for _, a := range accounts {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
					a.RoleID, a.Role, a.Email, a.Region, a.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountImportCmd, accountPasswdCmd, accountListCmd)
	accountImportCmd.Flags().StringVarP(&importFile, "file", "f", "", "YAML seed file")
	accountPasswdCmd.Flags().StringVar(&passwdEmail, "email", "", "Account email")
	accountPasswdCmd.Flags().StringVar(&passwdPassword, "password", "", "New password")
}

// withAccounts opens the configured backend for operator commands. Durable
// backends need a real storage key, otherwise the written records could
// never be read back by the server.
func withAccounts(ctx context.Context, fn func(config.Config, *slog.Logger, *account.Store, *account.Hasher) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := newLogger(cfg)

	b, err := openBackend(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer b.Close()

	hasher, err := account.NewHasher(cfg.Argon2Params())
	if err != nil {
		return err
	}
	return fn(cfg, logger, account.NewStore(b.repo, b.sealer), hasher)
}
