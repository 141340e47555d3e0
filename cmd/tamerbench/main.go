// Command tamerbench records a synthetic channel at a fixed period and
// reports how long each snapshot takes.
//
//	tamerbench --config tamer.yaml --snapshots 10000 --period 100us
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "tamerbench",
		Usage: "Snapshot latency benchmark",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML configuration file", EnvVars: []string{"TAMER_CONFIG"}},
			&cli.IntFlag{Name: "values", Value: 250, Usage: "values registered per numeric type (float64, float32, int32, int16)"},
			&cli.IntFlag{Name: "snapshots", Aliases: []string{"n"}, Value: 10000, Usage: "snapshots to take"},
			&cli.DurationFlag{Name: "period", Value: 100 * time.Microsecond, Usage: "time between snapshots"},
			&cli.StringFlag{Name: "pprof", Usage: "serve net/http/pprof on this address"},
			&cli.StringFlag{Name: "heap-profile", Usage: "write a heap profile here when done"},
			&cli.DurationFlag{Name: "linger", Usage: "keep pprof and metrics up this long after the run"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
