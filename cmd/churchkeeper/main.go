package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/dmitrijs2005/churchkeeper/internal/buildinfo"
	"github.com/dmitrijs2005/churchkeeper/internal/client/cli"
	"github.com/dmitrijs2005/churchkeeper/internal/client/config"
	"github.com/dmitrijs2005/churchkeeper/internal/logging"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	logger, closer := logging.New(cfg.Logging())
	defer closer.Close()

	ctx := context.Background()

	app, err := cli.NewApp(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}

	if err := app.Run(ctx); err != nil {
		logger.Error(ctx, err.Error())
	}

}
