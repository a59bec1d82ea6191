package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ftmatch/authgate/keyexchange"
)

var (
	sealPubKey string
	sealPass   string
	sealEmail  string
)

var sealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Seal a password to a server public key",
	Long: `Seal encrypts {"pass": ...} to the public key returned by GET /api/v1/auth/welcome
and prints the box for the login "meta" field. With --email the complete
login request body is printed instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if sealPubKey == "" || sealPass == "" {
			return errors.New("--pubkey and --pass are required")
		}
		plaintext, err := json.Marshal(map[string]string{"pass": sealPass})
		if err != nil {
			return err
		}
		box, err := keyexchange.Seal(sealPubKey, plaintext)
		if err != nil {
			return fmt.Errorf("sealing password: %w", err)
		}

		if sealEmail == "" {
			fmt.Fprintln(cmd.OutOrStdout(), box)
			return nil
		}
		body, err := json.Marshal(struct {
			Email  string `json:"email"`
			PubKey string `json:"pubkey"`
			Meta   string `json:"meta"`
		}{sealEmail, sealPubKey, box})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(body))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sealCmd)
	sealCmd.Flags().StringVar(&sealPubKey, "pubkey", "", "Server public key from /auth/welcome")
	sealCmd.Flags().StringVar(&sealPass, "pass", "", "Password to seal")
	sealCmd.Flags().StringVar(&sealEmail, "email", "", "Print a full login body for this email")
}
