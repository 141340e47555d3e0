// Command tamerdump prints a filesink recording as JSON lines: one object
// per schema record, then one per frame.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:      "tamerdump",
		Usage:     "Print a tamer recording as JSON lines",
		ArgsUsage: "<recording>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "channel", Usage: "only print frames of this channel"},
			&cli.BoolFlag{Name: "schemas", Usage: "print schema records", Value: true},
			&cli.BoolFlag{Name: "header", Usage: "print the recording header first"},
		},
		Action: dump,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
