package create

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"textcat-backend/cmd/pipelinectl/client"
	"textcat-backend/pkg/api"
)

var (
	mode            string
	datasetURL      string
	schemaPath      string
	hyperparameters map[string]string
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a pipeline run",
		Long:  "Create a pipeline run with the given name and queue it for execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			req := api.CreateRunRequest{
				Name:             args[0],
				Mode:             mode,
				DatasetSourceURL: datasetURL,
				Hyperparameters:  hyperparameters,
			}

			if schemaPath != "" {
				raw, err := os.ReadFile(schemaPath)
				if err != nil {
					return fmt.Errorf("failed to read schema file %s: %v", schemaPath, err)
				}
				req.Schema = raw
			}

			var response api.CreateRunResponse
			if err := client.New(viper.GetString("api-url")).Post("/runs", req, &response); err != nil {
				return fmt.Errorf("failed to create run: %v", err)
			}

			fmt.Printf("run %s created with id %s\n", args[0], response.RunId)
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", api.ModeRealtime, "Run mode, realtime or batch")
	cmd.Flags().StringVarP(&datasetURL, "dataset", "d", "", "Source URL of the dataset to stage")
	cmd.Flags().StringVarP(&schemaPath, "schema", "s", "", "Path to a schema descriptor JSON file")
	cmd.Flags().StringToStringVar(&hyperparameters, "hyperparameter", nil, "Training hyperparameter override, may be repeated (e.g. --hyperparameter epochs=25)")

	return cmd
}
