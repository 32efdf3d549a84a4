package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eldtechnologies/relay/clients/go/relay"
)

var (
	listType  string
	listAfter string
	listLimit int
)

func init() {
	broadcastListCmd.Flags().StringVar(&listType, "type", "", "filter by broadcast type")
	broadcastListCmd.Flags().StringVar(&listAfter, "after", "", "start after this broadcast ID")
	broadcastListCmd.Flags().IntVar(&listLimit, "limit", 0, "fetch a single page of this size instead of every broadcast")
	broadcastCmd.AddCommand(broadcastSendCmd, broadcastListCmd)
	rootCmd.AddCommand(broadcastCmd)
}

var broadcastCmd = &cobra.Command{
	Use:   "broadcast",
	Short: "Send and read admin broadcasts",
}

var broadcastSendCmd = &cobra.Command{
	Use:   "send <type> <payload>",
	Short: "Sign and send a broadcast (admin)",
	Long:  "Sign and send a broadcast. Types: security-alert, maintenance, update, announcement, revocation.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newClient().CreateBroadcast(args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(b)
	},
}

var broadcastListCmd = &cobra.Command{
	Use:   "list",
	Short: "List broadcasts, re-verifying each against the published admin keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		keys, err := c.ListAdminKeys()
		if err != nil {
			return err
		}
		var list []relay.Broadcast
		next := ""
		if listLimit > 0 {
			list, next, err = c.ListBroadcasts(listType, listAfter, listLimit)
		} else {
			list, err = c.ListAllBroadcasts(listType, listAfter)
		}
		if err != nil {
			return err
		}
		for _, b := range list {
			mark := "UNVERIFIED"
			if relay.VerifyBroadcast(b, keys) {
				mark = "verified"
			}
			fmt.Printf("[%s] %-14s %-10s %s  (%s)\n", b.CreatedAt.Format("2006-01-02 15:04:05"), b.Type, b.Sender, b.Payload, mark)
		}
		if next != "" {
			fmt.Printf("next page: --after %s\n", next)
		}
		return nil
	},
}
