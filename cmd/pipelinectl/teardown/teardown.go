package teardown

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"textcat-backend/cmd/pipelinectl/client"
	"textcat-backend/pkg/api"
)

var deleteStagedData bool

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "teardown <run-id>",
		Short: "Delete a run's serving resources",
		Long:  "Delete a run's endpoint, endpoint config, and registered model, and optionally its staged objects",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := "/runs/" + args[0] + "/endpoint"
			if deleteStagedData {
				path += "?delete_staged_data=true"
			}

			var response api.TeardownSubmitResponse
			if err := client.New(viper.GetString("api-url")).Delete(path, &response); err != nil {
				return fmt.Errorf("failed to submit teardown: %v", err)
			}

			fmt.Println(response.Message)
			return nil
		},
	}

	cmd.Flags().BoolVar(&deleteStagedData, "delete-staged-data", false, "Also delete the run's staged objects from S3")

	return cmd
}
