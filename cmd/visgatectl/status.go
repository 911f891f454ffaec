package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type deploymentView struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ModelID     string `json:"model_id"`
	EndpointURL string `json:"endpoint_url"`
	Error       *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func newStatusCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [deployment-id]",
		Short: "Show a deployment's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var dep deploymentView
			if err := root.client().do(cmd.Context(), "GET", "/v1/deployments/"+args[0], nil, &dep); err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout, "id=%s status=%s model_id=%s\n", dep.ID, dep.Status, dep.ModelID)
			if dep.EndpointURL != "" {
				fmt.Fprintf(os.Stdout, "endpoint_url=%s\n", dep.EndpointURL)
			}
			if dep.Error != nil {
				fmt.Fprintf(os.Stdout, "error=%s message=%q\n", dep.Error.Kind, dep.Error.Message)
			}
			return nil
		},
	}
}
