package get

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"textcat-backend/cmd/pipelinectl/client"
	"textcat-backend/pkg/api"
)

const timeLayout = "2006-01-02T15:04:05Z"

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <run-id>",
		Short: "Get status of a pipeline run",
		Long:  "Get status of a pipeline run with the given id, including its stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var run api.Run
			if err := client.New(viper.GetString("api-url")).Get("/runs/"+args[0], &run); err != nil {
				return fmt.Errorf("failed to get run %s: %v", args[0], err)
			}

			printStatus(&run)

			return nil
		},
	}
	return cmd
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "N/A"
	}
	return t.Format(timeLayout)
}

func formatNotAvailable(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func printStatus(run *api.Run) {
	fmt.Println("run state:")
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Name", "Status", "Mode", "Created", "Completed", "Model", "Endpoint"})
	table.Append([]string{
		run.Name,
		run.Status,
		run.Mode,
		run.CreationTime.Format(timeLayout),
		formatTime(run.CompletionTime),
		formatNotAvailable(run.ModelName),
		formatNotAvailable(run.EndpointName),
	})
	table.Render()

	if len(run.Stages) > 0 {
		fmt.Println("stage state:")
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Stage", "Status", "Completed", "Detail"})
		for _, stage := range run.Stages {
			table.Append([]string{stage.Stage, stage.Status, formatTime(stage.CompletionTime), stage.Detail})
		}
		table.Render()
	}

	if run.Error != "" {
		fmt.Printf("\nrun error message: %s\n", run.Error)
	}
}
