package main

import (
	"context"
	"os"
	"strings"

	"github.com/samber/do/v2"
	"github.com/urfave/cli/v3"
	"github.com/web3tea/cdc-sentinel/binding"
	"github.com/web3tea/cdc-sentinel/di"
	"github.com/web3tea/cdc-sentinel/sink"
)

var bindingsCmd = &cli.Command{
	Name:  "bindings",
	Usage: "List the configured entity bindings",
	Action: func(ctx context.Context, c *cli.Command) error {
		injector := di.SetupContainer(c.String("config"))

		registry, err := do.Invoke[*binding.Registry](injector)
		if err != nil {
			return err
		}

		sink.RenderTable(os.Stdout, "Bindings",
			[]string{"Entity", "Collection", "Table", "Fields", "Handler"},
			bindingRows(registry.Bindings()))
		return nil
	},
}

func bindingRows(bindings []binding.Binding) [][]string {
	rows := make([][]string, 0, len(bindings))
	for _, b := range bindings {
		rows = append(rows, []string{
			b.Entity.Name,
			b.Entity.Collection,
			b.Table,
			strings.Join(append([]string{sink.KeyColumn}, b.Fields...), ","),
			b.Handler,
		})
	}
	return rows
}
