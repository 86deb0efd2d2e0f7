package main

import (
	"os"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/kaw393939/metavis/cmd"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "metavis",
		Usage: "Deterministic media composition and render orchestration",
		Commands: []*cli.Command{
			cmd.WorkerCommand,
			cmd.SubmitCommand,
			cmd.StatusCommand,
			cmd.RenderCommand,
			cmd.MigrateCommand,
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		// log fatal so we exit with the proper exit code, this is important for containerized deployment health checks
		logging.Log.WithError(err).Fatal("runtime error")
	}
}
