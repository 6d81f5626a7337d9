package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/socialrelay/socialrelay/internal/output"
)

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Read notifications raised for users",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list <user-id>",
	Short: "List a user's notifications, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		unread, _ := cmd.Flags().GetBool("unread")
		return withServices(cmd, func(ctx context.Context, svc *services) error {
			list, err := svc.store.ListNotifications(ctx, args[0], unread)
			if err != nil {
				return err
			}
			return emit(cmd, func(format output.Format) (string, error) {
				return output.Notifications(format, list)
			})
		})
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read <notification-id>",
	Short: "Mark a notification as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd, func(ctx context.Context, svc *services) error {
			if err := svc.store.MarkNotificationRead(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Notification %s marked read\n", args[0])
			return nil
		})
	},
}

func init() {
	notificationsListCmd.Flags().Bool("unread", false, "only unread notifications")
	addOutputFlags(notificationsListCmd)

	notificationsCmd.AddCommand(notificationsListCmd, notificationsReadCmd)
	rootCmd.AddCommand(notificationsCmd)
}
