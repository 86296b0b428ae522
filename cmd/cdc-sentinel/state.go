package main

import (
	"context"
	"fmt"
	"os"

	"github.com/samber/do/v2"
	"github.com/urfave/cli/v3"
	"github.com/web3tea/cdc-sentinel/di"
	"github.com/web3tea/cdc-sentinel/pkg/log"
	"github.com/web3tea/cdc-sentinel/sink"
	"github.com/web3tea/cdc-sentinel/store"
)

var stateCmd = &cli.Command{
	Name:  "state",
	Usage: "Inspect or reset saved resume tokens",
	Commands: []*cli.Command{
		{
			Name:  "list",
			Usage: "List the saved resume token of every watched type",
			Action: func(ctx context.Context, c *cli.Command) error {
				return withStateStore(c, func(state *store.StateStore) error {
					states, err := state.List(ctx)
					if err != nil {
						return err
					}
					rows := make([][]string, 0, len(states))
					for _, s := range states {
						rows = append(rows, []string{s.EntityTypeKey, s.LastSyncedToken})
					}
					sink.RenderTable(os.Stdout, "Capture state", []string{"Entity", "Resume token"}, rows)
					return nil
				})
			},
		},
		{
			Name:      "reset",
			Usage:     "Forget the resume token of an entity so it is watched from now on",
			ArgsUsage: "<entity>",
			Action: func(ctx context.Context, c *cli.Command) error {
				entity := c.Args().First()
				if entity == "" {
					return fmt.Errorf("entity name is required")
				}
				return withStateStore(c, func(state *store.StateStore) error {
					if err := state.ResetToken(ctx, entity); err != nil {
						return err
					}
					log.Infof("Reset resume token of %s", entity)
					return nil
				})
			},
		},
	},
}

func withStateStore(c *cli.Command, fn func(*store.StateStore) error) error {
	injector := di.SetupContainer(c.String("config"))

	state, err := do.Invoke[*store.StateStore](injector)
	if err != nil {
		return err
	}
	defer state.Close()

	return fn(state)
}
