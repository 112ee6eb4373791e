package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mnnllm/internal/catalog"
	"github.com/samcharles93/mnnllm/internal/logger"
)

func listModelsCmd() *cli.Command {
	return &cli.Command{
		Name:    "list-models",
		Aliases: []string{"ls", "models"},
		Usage:   "List models under --models-path",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "models-path",
				Aliases:     []string{"path"},
				Usage:       "directory containing models",
				Destination: &modelsPath,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd, configFromContext(ctx))

			cat := catalog.New(catalog.Config{ModelsPath: modelsPath})
			if cat.Dir() == "" {
				return cli.Exit("error: --models-path is required unless "+catalog.EnvModelsDir+" is set", 1)
			}
			models, err := cat.Discover()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if len(models) == 0 {
				log.Info("no models found", "path", cat.Dir())
				return nil
			}
			return printModels(os.Stdout, cat.Dir(), models)
		},
	}
}

func printModels(w io.Writer, dir string, models []catalog.Model) error {
	if _, err := fmt.Fprintf(w, "Models in %s:\n\n", dir); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, m := range models {
		_, _ = fmt.Fprintf(tw, "  %s\t%s\t%s\n", m.Name, catalog.FormatSize(m.Size), m.Path)
	}
	return tw.Flush()
}
