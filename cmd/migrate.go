package cmd

import (
	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/urfave/cli/v2"
)

var MigrateCommand = &cli.Command{
	Name:  "migrate",
	Usage: "Create or update the job queue schema",
	Flags: flags,
	Action: func(ctx *cli.Context) error {
		return RunMigrate(ctx)
	},
}

func RunMigrate(ctx *cli.Context) error {
	// Initialize runs the schema migration as part of connecting.
	deferredStoreFuncs := initStores(ctx)
	for _, deferredFunc := range deferredStoreFuncs {
		defer deferredFunc()
	}
	logging.Log.Info("Job queue schema is up to date")
	return nil
}
