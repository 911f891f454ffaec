package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newDeleteCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [deployment-id]",
		Short: "Delete a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.client().do(cmd.Context(), "DELETE", "/v1/deployments/"+args[0], nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "deleted %s\n", args[0])
			return nil
		},
	}
}
