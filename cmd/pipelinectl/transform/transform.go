package transform

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"textcat-backend/cmd/pipelinectl/client"
	"textcat-backend/pkg/api"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transform <run-id>",
		Short: "Queue a batch transform against a run's registered model",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var response api.TransformSubmitResponse
			if err := client.New(viper.GetString("api-url")).Post("/runs/"+args[0]+"/transform", nil, &response); err != nil {
				return fmt.Errorf("failed to submit transform: %v", err)
			}

			fmt.Println(response.Message)
			return nil
		},
	}
	return cmd
}
