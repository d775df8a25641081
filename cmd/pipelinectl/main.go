package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"textcat-backend/cmd/pipelinectl/create"
	"textcat-backend/cmd/pipelinectl/get"
	"textcat-backend/cmd/pipelinectl/list"
	"textcat-backend/cmd/pipelinectl/predict"
	"textcat-backend/cmd/pipelinectl/teardown"
	"textcat-backend/cmd/pipelinectl/transform"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipelinectl",
		Short: "pipelinectl is the command-line tool for working with the text classification pipeline",
		Long: `pipelinectl is the command-line tool for working with the text classification pipeline.
It supports submitting runs, checking their status, querying deployed endpoints, and tearing down serving resources.`,
	}

	cmd.PersistentFlags().StringP("api-url", "u", "http://localhost:8001", "Base URL of the pipeline API")
	viper.BindPFlag("api-url", cmd.PersistentFlags().Lookup("api-url"))

	cmd.AddCommand(create.NewCommand())
	cmd.AddCommand(get.NewCommand())
	cmd.AddCommand(list.NewCommand())
	cmd.AddCommand(predict.NewCommand())
	cmd.AddCommand(transform.NewCommand())
	cmd.AddCommand(teardown.NewCommand())

	return cmd
}

func main() {
	if err := NewCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
