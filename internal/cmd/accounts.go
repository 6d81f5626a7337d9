package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/socialrelay/socialrelay/internal/core"
	"github.com/socialrelay/socialrelay/internal/core/store"
	"github.com/socialrelay/socialrelay/internal/observability"
	"github.com/socialrelay/socialrelay/internal/output"
	"github.com/socialrelay/socialrelay/internal/validate"
)

// withServices runs fn against a freshly wired service graph.
func withServices(cmd *cobra.Command, fn func(ctx context.Context, svc *services) error) error {
	ctx := cmd.Context()
	svc, err := newServices(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()
	return fn(ctx, svc)
}

var accountsCmd = &cobra.Command{
	Use:     "accounts",
	Aliases: []string{"account"},
	Short:   "Manage connected social accounts",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List connected accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := store.AccountFilter{}
		filter.UserID, _ = cmd.Flags().GetString("user")
		filter.ActiveOnly, _ = cmd.Flags().GetBool("active")
		if raw, _ := cmd.Flags().GetString("platform"); raw != "" {
			p, err := core.ParsePlatform(raw)
			if err != nil {
				return err
			}
			filter.Platform = p
		}

		return withServices(cmd, func(ctx context.Context, svc *services) error {
			accounts, err := svc.store.ListAccounts(ctx, filter)
			if err != nil {
				return err
			}
			return emit(cmd, func(format output.Format) (string, error) {
				return output.Accounts(format, accounts, time.Now().UTC())
			})
		})
	},
}

var accountsShowCmd = &cobra.Command{
	Use:   "show <account-id>",
	Short: "Show one connected account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd, func(ctx context.Context, svc *services) error {
			account, err := svc.store.GetAccount(ctx, args[0])
			if err != nil {
				return err
			}
			return emit(cmd, func(format output.Format) (string, error) {
				return output.Account(format, account, time.Now().UTC())
			})
		})
	},
}

// accountInput is what "accounts add" reads from its flags.
type accountInput struct {
	UserID         string `validate:"required"`
	TeamID         string
	Platform       string `validate:"required,oneof=instagram twitter facebook"`
	PlatformUserID string `validate:"required"`
	Username       string
	DisplayName    string
	AccessToken    string `validate:"required"`
	RefreshToken   string
	ExpiresIn      time.Duration `validate:"gte=0"`
	Scopes         []string
}

func (in accountInput) account(now time.Time) (core.SocialAccount, error) {
	in.Platform = strings.ToLower(strings.TrimSpace(in.Platform))
	if err := validate.Struct(in); err != nil {
		return core.SocialAccount{}, err
	}
	account := core.SocialAccount{
		UserID:         in.UserID,
		TeamID:         in.TeamID,
		Platform:       core.Platform(in.Platform),
		PlatformUserID: in.PlatformUserID,
		Username:       in.Username,
		DisplayName:    in.DisplayName,
		AccessToken:    in.AccessToken,
		RefreshToken:   in.RefreshToken,
		Scopes:         in.Scopes,
		IsActive:       true,
	}
	if in.ExpiresIn > 0 {
		expires := now.Add(in.ExpiresIn)
		account.TokenExpiresAt = &expires
	}
	return account, nil
}

var accountsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Store an account with tokens obtained elsewhere",
	Long: `Store or update a connected account from tokens obtained outside this
service. Accounts can instead be connected interactively through
GET /api/v1/oauth/{platform}/start while "serve" is running.

Re-adding the same platform identity for a user updates it in place.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var in accountInput
		flags := cmd.Flags()
		in.UserID, _ = flags.GetString("user")
		in.TeamID, _ = flags.GetString("team")
		in.Platform, _ = flags.GetString("platform")
		in.PlatformUserID, _ = flags.GetString("platform-user-id")
		in.Username, _ = flags.GetString("username")
		in.DisplayName, _ = flags.GetString("display-name")
		in.AccessToken, _ = flags.GetString("access-token")
		in.RefreshToken, _ = flags.GetString("refresh-token")
		in.ExpiresIn, _ = flags.GetDuration("expires-in")
		in.Scopes, _ = flags.GetStringSlice("scopes")

		now := time.Now().UTC()
		account, err := in.account(now)
		if err != nil {
			return err
		}

		return withServices(cmd, func(ctx context.Context, svc *services) error {
			saved, err := svc.store.UpsertAccount(ctx, account)
			if err != nil {
				return err
			}
			observability.Logger().Info("Account stored",
				zap.String("account_id", saved.ID),
				zap.String("platform", string(saved.Platform)))
			return emit(cmd, func(format output.Format) (string, error) {
				return output.Account(format, saved, now)
			})
		})
	},
}

var accountsRevokeCmd = &cobra.Command{
	Use:   "revoke <account-id>",
	Short: "Revoke an account's token and deactivate it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd, func(ctx context.Context, svc *services) error {
			if err := svc.tokens.RevokeToken(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account %s revoked\n", args[0])
			return nil
		})
	},
}

func init() {
	accountsListCmd.Flags().String("user", "", "only accounts of this user")
	accountsListCmd.Flags().String("platform", "", "only accounts on this platform")
	accountsListCmd.Flags().Bool("active", false, "only active accounts")
	addOutputFlags(accountsListCmd)
	addOutputFlags(accountsShowCmd)

	f := accountsAddCmd.Flags()
	f.String("user", "", "owning user ID (required)")
	f.String("team", "", "owning team ID")
	f.String("platform", "", "instagram, twitter or facebook (required)")
	f.String("platform-user-id", "", "account ID on the platform (required)")
	f.String("username", "", "platform username")
	f.String("display-name", "", "platform display name")
	f.String("access-token", "", "OAuth access token (required)")
	f.String("refresh-token", "", "OAuth refresh token")
	f.Duration("expires-in", 0, "access token lifetime from now; 0 means it does not expire")
	f.StringSlice("scopes", nil, "granted scopes")
	addOutputFlags(accountsAddCmd)

	accountsCmd.AddCommand(accountsListCmd, accountsShowCmd, accountsAddCmd, accountsRevokeCmd)
	rootCmd.AddCommand(accountsCmd)
}
