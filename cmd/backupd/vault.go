package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vya-digital/backupd/internal/logging"
	"github.com/vya-digital/backupd/internal/vault"
)

// vaultOnly opens just the vault, skipping config loading so vault
// management works before a config file exists.
func vaultOnly(flags *rootFlags) (*vault.Manager, *zap.Logger, error) {
	logger, err := logging.New(logging.Settings{ConsoleLevel: flags.logLevel})
	if err != nil {
		return nil, nil, err
	}
	v := vault.New(flags.vaultPath, logger)
	if err := v.Load(); err != nil && !errors.Is(err, vault.ErrNotFound) {
		return nil, nil, err
	}
	return v, logger, nil
}

func newVaultCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage the encrypted credential vault",
	}
	cmd.AddCommand(
		newVaultAddCmd(flags),
		newVaultListCmd(flags),
		newVaultGetCmd(flags),
		newVaultRemoveCmd(flags),
		newVaultInfoCmd(flags),
	)
	return cmd
}

func newVaultAddCmd(flags *rootFlags) *cobra.Command {
	var (
		username    string
		password    string
		description string
		fromFile    string
	)

	cmd := &cobra.Command{
		Use:   "add [id]",
		Short: "Add or update a credential (or import a batch with --from-file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, _, err := vaultOnly(flags)
			if err != nil {
				return err
			}

			if fromFile != "" {
				if _, err := os.Stat(fromFile); err != nil {
					return usagef("import file %s: %v", fromFile, err)
				}
				n, err := v.ImportFile(fromFile)
				if err != nil {
					return &usageError{err: err}
				}
				if err := v.Save(); err != nil {
					return err
				}
				fmt.Printf("imported %d credential(s)\n", n)
				return nil
			}

			if len(args) != 1 || username == "" || password == "" {
				return usagef("vault add requires <id>, --username, and --password (or --from-file)")
			}
			if err := v.Set(args[0], username, password, description); err != nil {
				return err
			}
			if err := v.Save(); err != nil {
				return err
			}
			fmt.Printf("credential %q stored\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Credential username")
	cmd.Flags().StringVar(&password, "password", "", "Credential password")
	cmd.Flags().StringVar(&description, "description", "", "Credential description")
	cmd.Flags().StringVar(&fromFile, "from-file", "", "Import a JSON array of {id, username, password, description}")

	return cmd
}

func newVaultListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List credential ids and metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, _, err := vaultOnly(flags)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUPDATED\tDESCRIPTION")
			for _, id := range v.List() {
				meta, _ := v.Metadata(id)
				updated := ""
				if !meta.UpdatedAt.IsZero() {
					updated = meta.UpdatedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", id, updated, meta.Description)
			}
			return w.Flush()
		},
	}
}

func newVaultGetCmd(flags *rootFlags) *cobra.Command {
	var showPassword bool

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, _, err := vaultOnly(flags)
			if err != nil {
				return err
			}
			cred, ok, err := v.Get(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return usagef("credential %q not found", args[0])
			}
			fmt.Printf("username: %s\n", cred.Username)
			if showPassword {
				fmt.Printf("password: %s\n", cred.Password)
			} else {
				fmt.Println("password: ******** (use --show-password)")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showPassword, "show-password", false, "Print the password in plaintext")
	return cmd
}

func newVaultRemoveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, _, err := vaultOnly(flags)
			if err != nil {
				return err
			}
			if !v.Remove(args[0]) {
				return usagef("credential %q not found", args[0])
			}
			if err := v.Save(); err != nil {
				return err
			}
			fmt.Printf("credential %q removed\n", args[0])
			return nil
		},
	}
}

func newVaultInfoCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show vault statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, _, err := vaultOnly(flags)
			if err != nil {
				return err
			}
			info := v.Info()
			fmt.Printf("version:     %s\n", info.Version)
			fmt.Printf("path:        %s\n", info.Path)
			fmt.Printf("credentials: %d\n", info.Count)
			fmt.Printf("file bytes:  %d\n", info.FileBytes)
			fmt.Printf("cache size:  %d\n", info.CacheSize)
			return nil
		},
	}
}
