// Command pagefabctl operates a running pagefab service over its HTTP API.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "pagefabctl:", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "pagefabctl",
		Usage:  "drive page generation jobs and inspect indexing coverage",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Usage:   "base URL of the pagefab service",
				Value:   "http://localhost:8086",
				EnvVars: []string{"PAGEFAB_SERVER"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "generate",
				Usage: "start a generation job",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "model", Required: true},
					&cli.StringFlag{Name: "template", Required: true},
					&cli.IntFlag{Name: "max-pages", Usage: "stop after this many published pages (0 = no cap)"},
				},
				Action: generateAction,
			},
			{
				Name:      "preview",
				Usage:     "sample combinations without publishing",
				ArgsUsage: "MODEL",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "count", Value: 5},
				},
				Action: previewAction,
			},
			{
				Name:      "status",
				Usage:     "show one job's state and counters",
				ArgsUsage: "JOB_ID",
				Action:    statusAction,
			},
			{
				Name:   "jobs",
				Usage:  "list all jobs",
				Action: jobsAction,
			},
			{
				Name:      "pause",
				ArgsUsage: "JOB_ID",
				Action:    transitionAction("pause"),
			},
			{
				Name:      "resume",
				ArgsUsage: "JOB_ID",
				Action:    transitionAction("resume"),
			},
			{
				Name:      "cancel",
				ArgsUsage: "JOB_ID",
				Action:    transitionAction("cancel"),
			},
			{
				Name:      "rollback",
				Usage:     "unpublish a finished job's pages",
				ArgsUsage: "JOB_ID",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "mode", Value: "draft", Usage: "draft or delete"},
				},
				Action: rollbackAction,
			},
			{
				Name:   "coverage",
				Usage:  "show the indexing dashboard",
				Action: coverageAction,
			},
		},
	}
}
