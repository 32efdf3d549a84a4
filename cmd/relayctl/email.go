package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	emailCmd.AddCommand(emailSendCmd, emailConfirmCmd)
	rootCmd.AddCommand(emailCmd)
}

var emailCmd = &cobra.Command{
	Use:   "email",
	Short: "Verify the saved agent's email address",
}

var emailSendCmd = &cobra.Command{
	Use:   "send <address>",
	Short: "Email a one-time code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().SendVerificationCode(args[0]); err != nil {
			return err
		}
		fmt.Println("code sent, valid for 10 minutes")
		return nil
	},
}

var emailConfirmCmd = &cobra.Command{
	Use:   "confirm <code>",
	Short: "Confirm the emailed code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().ConfirmVerificationCode(args[0]); err != nil {
			return err
		}
		fmt.Println("email verified")
		return nil
	},
}
