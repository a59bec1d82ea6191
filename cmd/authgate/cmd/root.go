package cmd

import (
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "authgate",
	Short: "authgate is the login gateway for the matching platform",
	Long: `authgate hands out ephemeral public keys, verifies sealed login credentials,
issues bearer sessions and lets signed-in users rotate their password.
Configuration is read from AUTHGATE_* environment variables and an optional .env file.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	// Destroys every enclave still alive, keyring and signing keys included.
	memguard.Purge()
	if err != nil {
		os.Exit(1)
	}
}
