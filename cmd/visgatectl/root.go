package main

import (
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	serverURL   string
	providerKey string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "visgatectl",
		Short:        "Command-line client for the visgate deployment gateway",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.serverURL, "server", "http://localhost:8080", "gateway base URL")
	cmd.PersistentFlags().StringVar(&opts.providerKey, "provider-key", "", "GPU-provider API key (or set VISGATE_PROVIDER_KEY)")

	cmd.AddCommand(newDeployCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newDeleteCommand(opts))

	return cmd
}

func (o *rootOptions) client() *apiClient {
	key := o.providerKey
	if key == "" {
		key = os.Getenv("VISGATE_PROVIDER_KEY")
	}
	return newAPIClient(o.serverURL, key)
}
