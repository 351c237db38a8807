// Command ledger runs the replicated vote ledger. It either serves the HTTP
// API or performs one-off maintenance operations against the replica store.
package main

import (
	"io"
	"os"

	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"voteledger"
)

func main() {
	err := run(os.Args, os.Stdout)
	if err != nil {
		voteledger.Logger.Fatal().Err(err).Msg("ledger failed")
	}
}

func run(args []string, out io.Writer) error {
	app := &cli.App{
		Name:   "ledger",
		Usage:  "replicated append-only vote ledger",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration",
				Value:   "ledger.yaml",
				EnvVars: []string{"LEDGER_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the HTTP API and the audit scheduler",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "port",
						Usage: "listening port, overrides the configuration",
					},
				},
				Action: serveAction,
			},
			{
				Name:   "audit",
				Usage:  "audit the replicas of an election",
				Flags:  []cli.Flag{electionFlag},
				Action: auditAction,
			},
			{
				Name:  "repair",
				Usage: "overwrite a diverging replica with the consensus chain",
				Flags: []cli.Flag{
					electionFlag,
					&cli.StringFlag{
						Name:  "replica",
						Usage: "replica to repair, every divergent replica if omitted",
					},
				},
				Action: repairAction,
			},
			{
				Name:   "stats",
				Usage:  "print the statistics of an election",
				Flags:  []cli.Flag{electionFlag},
				Action: statsAction,
			},
			{
				Name:  "admin",
				Usage: "manage the admin key",
				Subcommands: []*cli.Command{
					{
						Name:   "address",
						Usage:  "print the address of the admin key",
						Action: adminAddressAction,
					},
					{
						Name:  "sign",
						Usage: "sign a repair request",
						Flags: []cli.Flag{
							electionFlag,
							&cli.StringFlag{
								Name:     "replica",
								Required: true,
							},
						},
						Action: adminSignAction,
					},
				},
			},
		},
	}

	err := app.Run(args)
	if err != nil {
		return xerrors.Errorf("%s: %w", app.Name, err)
	}

	return nil
}

var electionFlag = &cli.StringFlag{
	Name:     "election",
	Aliases:  []string{"e"},
	Usage:    "election identifier",
	Required: true,
}
