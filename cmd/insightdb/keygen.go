package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/programmerrush/InsightDB-api/internal/secret"
)

var (
	keygenStore      bool
	keygenKeyringDir string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a credential encryption key",
	Long: `Generate a random 32-byte AES-256 key, hex encoded.

By default the key is printed so it can be exported as ENCRYPTION_KEY.
With --keyring it is stored in the OS keyring instead; set
encryption.source to "keyring" to use it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := secret.GenerateKey()
		if err != nil {
			return err
		}
		if !keygenStore {
			pterm.Println(key)
			return nil
		}

		ring, err := secret.OpenKeyring(keygenKeyringDir)
		if err != nil {
			return err
		}
		if err := secret.StoreInKeyring(ring, key); err != nil {
			return err
		}
		pterm.Success.Printf("Key stored in keyring service %q\n", secret.KeyringService)
		return nil
	},
}

func init() {
	keygenCmd.Flags().BoolVar(&keygenStore, "keyring", false, "store the key in the OS keyring instead of printing it")
	keygenCmd.Flags().StringVar(&keygenKeyringDir, "keyring-dir", "", "directory for the encrypted-file keyring backend")
	rootCmd.AddCommand(keygenCmd)
}
