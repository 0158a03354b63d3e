package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/dmitrijs2005/fedinode/internal/client/cli"
	"github.com/dmitrijs2005/fedinode/internal/client/config"
	"github.com/dmitrijs2005/fedinode/internal/common"
)

func main() {

	fmt.Fprintf(os.Stderr, "fedinode admin CLI %s\n", common.Version)

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := cli.NewApp(cfg)

	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	if err := app.Run(ctx, config.CommandArgs(os.Args[1:])); err != nil {
		log.Fatalf("%v", err)
	}

}
