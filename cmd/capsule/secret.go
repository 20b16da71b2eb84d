package main

import (
	"fmt"
	"path/filepath"

	"github.com/caffeineduck/capsule/capability/configs"
	"github.com/spf13/cobra"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Store a user secret for a config",
	Long: `Store an encrypted value in the user secrets file next to a config.

Values are sealed with a per-user key taken from CAPSULE_USERSECRETS_KEY or
created under the user config directory on first use. Capabilities read them
when the config sets secret_store = "usersecrets".

Example:
  capsule secret -c capsule.toml -k AZURE_STORAGE_ACCOUNT -v myaccount`,
	Args: cobra.NoArgs,
	RunE: runSecret,
}

func init() {
	secretCmd.Flags().StringP("config", "c", "capsule.toml", "Config file the secret belongs to")
	secretCmd.Flags().StringP("key", "k", "", "Secret name")
	secretCmd.Flags().StringP("value", "v", "", "Secret value")
	_ = secretCmd.MarkFlagRequired("key")
	_ = secretCmd.MarkFlagRequired("value")

	rootCmd.AddCommand(secretCmd)
}

func runSecret(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	key, _ := cmd.Flags().GetString("key")
	value, _ := cmd.Flags().GetString("value")

	abs, err := filepath.Abs(configPath)
	if err != nil {
		return err
	}
	store := configs.NewUserSecrets(abs)
	if err := store.Set(cmd.Context(), key, value); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored %s in %s\n", key, store.Path())
	return nil
}
