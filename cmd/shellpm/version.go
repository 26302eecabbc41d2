package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"shellpm/internal/app"
	"shellpm/internal/config"
)

func newVersionCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := map[string]string{
				"version":  config.Version,
				"commit":   config.Commit,
				"date":     config.Date,
				"platform": runtime.GOOS + "/" + runtime.GOARCH,
			}
			if *jsonOutput {
				return print(true, info, "")
			}
			fmt.Printf("shellpm %s\ncommit: %s\nbuilt at: %s\nplatform: %s\n", config.Version, config.Commit, config.Date, info["platform"])
			return nil
		},
	}
}
