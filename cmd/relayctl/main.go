package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eldtechnologies/relay/clients/go/relay"
)

var baseURL string

var rootCmd = &cobra.Command{
	Use:          "relayctl",
	Short:        "Command line client for the agent relay",
	Long:         `relayctl manages agent keys, signs payloads and talks to a relay server. Credentials are read from $RELAY_CONFIG (default ~/.relay).`,
	Version:      "0.1.0",
	SilenceUsage: true,
}

func init() {
	defaultURL := os.Getenv("RELAY_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", defaultURL, "relay base URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newClient() *relay.Client {
	return relay.NewClient(baseURL)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
