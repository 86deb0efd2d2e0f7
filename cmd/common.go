package cmd

import (
	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/kaw393939/metavis/internal/config"
	"github.com/kaw393939/metavis/internal/store"
	"github.com/kaw393939/metavis/internal/store/gorm_store"
	"github.com/urfave/cli/v2"
)

// flags shared by every command that touches the job queue.
var flags = []cli.Flag{
	&cli.StringFlag{
		Name:    "db-uri",
		Usage:   "Job queue database: a postgres:// URI or a sqlite file path",
		EnvVars: []string{"METAVIS_DB_URI"},
	},
}

// initStores sets up the application store and returns the deferred
// teardown functions the caller must run on exit.
func initStores(ctx *cli.Context) []func() {
	if uri := ctx.String("db-uri"); uri != "" {
		config.DbUri = uri
	}

	store.AppStore = &gorm_store.GormDbStore{}

	var deferredFuncs []func()
	deferredFunc, err := store.AppStore.Initialize()
	if err != nil {
		logging.Log.WithError(err).Fatal("Failed to initialize job store")
	}
	if deferredFunc != nil {
		deferredFuncs = append(deferredFuncs, deferredFunc)
	}
	return deferredFuncs
}
