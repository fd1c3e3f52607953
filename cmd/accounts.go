package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaycrew/chatrelay/internal/accounts"
	"github.com/relaycrew/chatrelay/internal/config"
	"github.com/relaycrew/chatrelay/internal/store/file"
	dbsql "github.com/relaycrew/chatrelay/internal/store/sql"
	"github.com/relaycrew/chatrelay/internal/transport/telegrambot"
)

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage source/target accounts",
	}
	cmd.AddCommand(accountsListCmd())
	cmd.AddCommand(accountsCreateCmd())
	cmd.AddCommand(accountsLoginCmd())
	return cmd
}

// openAccountStore opens the account store from the resolved config,
// without standing up the rest of the engine (no pool, no bus, no
// gateway) — this CLI path is offline tooling, not a running server.
func openAccountStore() (accounts.Store, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.Mode == "sql" {
		s, err := dbsql.NewStore(cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		return s.Accounts(), nil
	}
	s, err := file.NewStore(cfg.Database.FileDir)
	if err != nil {
		return nil, err
	}
	return s.Accounts(), nil
}

func accountsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openAccountStore()
			if err != nil {
				return err
			}
			accts, err := store.List()
			if err != nil {
				return err
			}
			fmt.Printf("%-20s %-20s %-16s %s\n", "ID", "NAME", "STATUS", "LAST ACTIVE")
			for _, a := range accts {
				fmt.Printf("%-20s %-20s %-16s %s\n", a.ID, a.Name, a.Status, a.LastActive.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func accountsCreateCmd() *cobra.Command {
	var id, name, appID, appHash, phone string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new account (created, not yet authenticated)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id is required")
			}
			store, err := openAccountStore()
			if err != nil {
				return err
			}
			acct := accounts.Account{
				ID: id, Name: name, AppID: appID, AppHash: appHash, Phone: phone,
				Status: accounts.StatusCreated,
			}
			if err := store.Create(acct); err != nil {
				return err
			}
			fmt.Printf("created account %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "account id (required)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&appID, "app-id", "", "provider app id, if required")
	cmd.Flags().StringVar(&appHash, "app-hash", "", "provider app hash, if required")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number, if required")
	return cmd
}

func accountsLoginCmd() *cobra.Command {
	var id, token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate an account directly with a bot token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" || token == "" {
				return fmt.Errorf("--id and --token are required")
			}
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := openAccountStore()
			if err != nil {
				return err
			}
			acct, err := store.Get(id)
			if err != nil {
				return fmt.Errorf("account %s not found: run `chatrelay accounts create --id %s` first", id, id)
			}

			sealer, err := newSealer(cfg.EncryptionKey)
			if err != nil {
				return err
			}
			registry := accounts.NewRegistry()
			auth := accounts.NewAuthenticator(store, registry, sealer, nil)

			handle, err := auth.AuthenticateDirect(context.Background(), acct, telegrambot.NewConnector(), token)
			if err != nil {
				return fmt.Errorf("authenticate: %w", err)
			}
			defer handle.Close()

			fmt.Printf("account %s authenticated\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "account id (required)")
	cmd.Flags().StringVar(&token, "token", os.Getenv("CHATRELAY_BOT_TOKEN"), "bot token (required; also read from CHATRELAY_BOT_TOKEN)")
	return cmd
}
