// Command synapctl is the operator CLI for a running synapd instance.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string
)

func main() {
	root := &cobra.Command{
		Use:   "synapctl",
		Short: "Operate a running synapd kernel",
	}
	root.PersistentFlags().StringVar(&serverURL, "server", envOr("SYNAPCTL_SERVER", "http://127.0.0.1:8420"), "synapd base URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("SYNAPCTL_API_KEY"), "admin API key")

	root.AddCommand(
		statusCmd(),
		pluginsCmd(),
		eventsCmd(),
		permissionsCmd(),
		tokenCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "synapctl:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func api() *client {
	return newClient(serverURL, apiKey)
}
