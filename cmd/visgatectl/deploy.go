package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type deployOptions struct {
	hfModelID  string
	modelName  string
	webhookURL string
	gpuTier    string
	hfToken    string
	cacheScope string
}

type createDeploymentRequest struct {
	HFModelID      string `json:"hf_model_id,omitempty"`
	ModelName      string `json:"model_name,omitempty"`
	UserWebhookURL string `json:"user_webhook_url"`
	GPUTier        string `json:"gpu_tier,omitempty"`
	HFToken        string `json:"hf_token,omitempty"`
	CacheScope     string `json:"cache_scope,omitempty"`
}

type createDeploymentResponse struct {
	DeploymentID          string `json:"deployment_id"`
	Status                string `json:"status"`
	ModelID               string `json:"model_id"`
	EstimatedReadySeconds int    `json:"estimated_ready_seconds"`
}

func newDeployCommand(root *rootOptions) *cobra.Command {
	opts := &deployOptions{}

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Create a new deployment",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.hfModelID == "" && opts.modelName == "" {
				return newCliError(exitUsage, fmt.Errorf("one of --hf-model-id or --model-name is required"))
			}
			if opts.hfModelID != "" && opts.modelName != "" {
				return newCliError(exitUsage, fmt.Errorf("--hf-model-id and --model-name are mutually exclusive"))
			}
			if opts.webhookURL == "" {
				return newCliError(exitUsage, fmt.Errorf("--webhook-url is required"))
			}

			var resp createDeploymentResponse
			err := root.client().do(cmd.Context(), "POST", "/v1/deployments", createDeploymentRequest{
				HFModelID:      opts.hfModelID,
				ModelName:      opts.modelName,
				UserWebhookURL: opts.webhookURL,
				GPUTier:        opts.gpuTier,
				HFToken:        opts.hfToken,
				CacheScope:     opts.cacheScope,
			}, &resp)
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout, "deployment_id=%s status=%s model_id=%s estimated_ready_seconds=%d\n",
				resp.DeploymentID, resp.Status, resp.ModelID, resp.EstimatedReadySeconds)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.hfModelID, "hf-model-id", "", "Hugging Face model id, e.g. stabilityai/sd-turbo")
	cmd.Flags().StringVar(&opts.modelName, "model-name", "", "catalog model name, alternative to --hf-model-id")
	cmd.Flags().StringVar(&opts.webhookURL, "webhook-url", "", "URL notified when the deployment becomes ready")
	cmd.Flags().StringVar(&opts.gpuTier, "gpu-tier", "", "requested GPU tier alias, e.g. A10")
	cmd.Flags().StringVar(&opts.hfToken, "hf-token", "", "Hugging Face access token, for gated models")
	cmd.Flags().StringVar(&opts.cacheScope, "cache-scope", "", "off, shared, or private")

	return cmd
}
