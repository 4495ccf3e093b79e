package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "tx2json",
		Usage: "Turn V2EX Solana explorer transaction pages into JSON records",
		Description: `A command-line tool for extracting and inspecting transaction records.

Use this CLI to extract records from saved pages or the live explorer, inspect
the record store, and follow published record events.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			extractCommand(),
			fetchCommand(),
			{
				Name:  "db",
				Usage: "Record store inspection commands",
				Subcommands: []*cli.Command{
					listRecordsCommand(),
					getRecordCommand(),
					topicRecordsCommand(),
					deleteRecordCommand(),
				},
			},
			{
				Name:  "nats",
				Usage: "NATS record streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
				},
			},
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		Flags: globalFlags(),
	}
}

// globalFlags are available to all commands.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "explorer-url",
			Usage:   "Explorer base URL",
			EnvVars: []string{"EXPLORER_BASE_URL"},
			Value:   "https://www.v2ex.com",
		},
		&cli.StringFlag{
			Name:    "explorer-cookie",
			Usage:   "Cookie header sent with explorer requests",
			EnvVars: []string{"EXPLORER_COOKIE"},
		},
		&cli.DurationFlag{
			Name:    "http-timeout",
			Usage:   "Explorer request timeout",
			EnvVars: []string{"HTTP_TIMEOUT"},
			Value:   30 * time.Second,
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Database connection URL",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "server-url",
			Usage:   "Server URL for health checks",
			EnvVars: []string{"SERVER_URL"},
			Value:   "http://localhost:8080",
		},
		&cli.StringFlag{
			Name:    "nats-url",
			Usage:   "NATS server URL",
			EnvVars: []string{"NATS_URL"},
			Value:   "nats://localhost:4222",
		},
	}
}
