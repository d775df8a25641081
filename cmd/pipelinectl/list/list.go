package list

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"textcat-backend/cmd/pipelinectl/client"
	"textcat-backend/pkg/api"
)

const TimeLayout = "2006-01-02T15:04:05Z"

var (
	status string
	mode   string
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pipeline runs",
		RunE: func(_ *cobra.Command, args []string) error {
			return doList()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Only list runs with this status (QUEUED, RUNNING, COMPLETED, FAILED)")
	cmd.Flags().StringVar(&mode, "mode", "", "Only list runs with this mode (realtime or batch)")

	return cmd
}

func doList() error {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if mode != "" {
		query.Set("mode", mode)
	}

	path := "/runs"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var runs []api.Run
	if err := client.New(viper.GetString("api-url")).Get(path, &runs); err != nil {
		return fmt.Errorf("failed to list runs: %v", err)
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer writer.Flush()
	fmt.Fprintf(writer, "Id\tName\tStatus\tMode\tCreation Time\tCompletion Time\n")
	for _, run := range runs {
		var completionTime string
		if run.CompletionTime != nil {
			completionTime = run.CompletionTime.Format(TimeLayout)
		}

		fmt.Fprintf(writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			run.Id,
			run.Name,
			run.Status,
			run.Mode,
			run.CreationTime.Format(TimeLayout),
			completionTime,
		)
	}

	return nil
}
