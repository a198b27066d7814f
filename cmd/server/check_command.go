package main

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/moodremix/api/internal/client"
	"github.com/moodremix/api/internal/config"
)

type dependency struct {
	name     string
	detail   string
	ok       bool
	required bool
}

func lookPath(name, bin string) dependency {
	d := dependency{name: name, required: true}
	path, err := exec.LookPath(bin)
	if err != nil {
		d.detail = bin + " not found on PATH"
		return d
	}
	d.ok = true
	d.detail = path
	return d
}

func checkDependencies(ctx context.Context, cfg *config.Config) []dependency {
	deps := []dependency{
		lookPath("ffmpeg", cfg.Engine.FFmpegBin),
		lookPath("ffprobe", cfg.Engine.FFprobeBin),
		lookPath("separation", cfg.Separation.Command),
	}

	gen := dependency{name: "generation", detail: cfg.Generation.ServiceURL}
	c := client.NewGenerationClient(&cfg.Generation)
	if c.IsConfigured() {
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := c.HealthCheck(hctx)
		cancel()
		if err != nil {
			gen.detail = err.Error()
		} else {
			gen.ok = true
		}
	} else {
		gen.detail = "not configured"
	}
	deps = append(deps, gen)

	store := dependency{name: "object storage", detail: "disabled", ok: true}
	if cfg.Storage.Enabled() {
		store.detail = cfg.Storage.Bucket
	}
	return append(deps, store)
}

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report availability of external dependencies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			deps := checkDependencies(cmd.Context(), cfg)
			rows := make([][]string, 0, len(deps))
			missing := 0
			for _, d := range deps {
				state := "ok"
				if !d.ok {
					state = "missing"
					if d.required {
						missing++
					}
				}
				rows = append(rows, []string{d.name, state, d.detail})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Dependency", "State", "Detail"}, rows))

			if missing > 0 {
				return errors.Newf("%d required dependencies missing", missing)
			}
			return nil
		},
	}
}
