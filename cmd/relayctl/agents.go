package main

import (
	"github.com/spf13/cobra"
)

var registerEmail string

func init() {
	registerCmd.Flags().StringVar(&registerEmail, "email", "", "contact email")
	rootCmd.AddCommand(healthCmd, registerCmd, whoCmd, rotateCmd, approveCmd, revokeCmd, grantCmd, ungrantCmd)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check relay health",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := newClient().Health()
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var registerCmd = &cobra.Command{
	Use:   "register <name>",
	Short: "Generate a keypair and register it under name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := newClient().Register(args[0], registerEmail)
		if err != nil {
			return err
		}
		return printJSON(agent)
	},
}

var whoCmd = &cobra.Command{
	Use:   "who <name>",
	Short: "Show an agent's public record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := newClient().GetAgent(args[0])
		if err != nil {
			return err
		}
		return printJSON(agent)
	},
}

var rotateCmd = &cobra.Command{
	Use:   "rotate-key",
	Short: "Replace the saved agent's identity key",
	Long:  "Replace the saved agent's identity key. Admin grants keep the old key until re-granted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := newClient().RotateKey()
		if err != nil {
			return err
		}
		return printJSON(agent)
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <name>",
	Short: "Activate a pending agent (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := newClient().Approve(args[0])
		if err != nil {
			return err
		}
		return printJSON(agent)
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <name>",
	Short: "Deactivate an agent (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := newClient().Revoke(args[0])
		if err != nil {
			return err
		}
		return printJSON(agent)
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant-admin <name>",
	Short: "Copy an agent's current key into the admin ledger (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		grant, err := newClient().GrantAdmin(args[0])
		if err != nil {
			return err
		}
		return printJSON(grant)
	},
}

var ungrantCmd = &cobra.Command{
	Use:   "revoke-admin <name>",
	Short: "Remove an agent from the admin ledger (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return newClient().RevokeAdmin(args[0])
	},
}
