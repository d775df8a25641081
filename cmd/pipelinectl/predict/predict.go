package predict

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"textcat-backend/cmd/pipelinectl/client"
	"textcat-backend/pkg/api"
)

var (
	format     string
	schemaPath string
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict <run-id> <text> [<text>...]",
		Short: "Classify texts against a run's deployed endpoint",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			req := api.PredictRequest{Texts: args[1:], Format: format}

			if schemaPath != "" {
				raw, err := os.ReadFile(schemaPath)
				if err != nil {
					return fmt.Errorf("failed to read schema file %s: %v", schemaPath, err)
				}
				req.Schema = raw
			}

			var response api.PredictResponse
			if err := client.New(viper.GetString("api-url")).Post("/runs/"+args[0]+"/predict", req, &response); err != nil {
				return fmt.Errorf("failed to predict: %v", err)
			}

			writer := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer writer.Flush()
			fmt.Fprintf(writer, "Label\tProbability\n")
			for _, prediction := range response.Predictions {
				fmt.Fprintf(writer, "%s\t%.4f\n", prediction.Label, prediction.Probability)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", api.FormatJSON, "Request encoding sent to the endpoint, csv or json")
	cmd.Flags().StringVarP(&schemaPath, "schema", "s", "", "Path to a schema descriptor JSON file overriding the deployed schema")

	return cmd
}
