package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"
	"github.com/web3tea/cdc-sentinel/pkg/log"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "path to the TOML or JSON config file",
	Value:   "cdc-sentinel.toml",
	Sources: cli.EnvVars("CDC_SENTINEL_CONFIG"),
}

func main() {
	cmd := &cli.Command{
		Name:  "cdc-sentinel",
		Usage: "Replicate MongoDB change streams into SQL tables",
		Flags: []cli.Flag{
			configFlag,
		},
		Commands: []*cli.Command{
			runCmd,
			bindingsCmd,
			stateCmd,
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("%v", err)
	}
}
