package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/HelloWorldImJoe/v2ex-tx2json/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func listRecordsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List stored records, newest first",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of records",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of records to skip",
			},
		},
		Action: func(c *cli.Context) error {
			limit, offset := c.Int("limit"), c.Int("offset")
			if limit < 1 || limit > 1000 {
				return fmt.Errorf("limit must be between 1 and 1000")
			}
			if offset < 0 {
				return fmt.Errorf("offset cannot be negative")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			records, err := store.ListRecords(c.Context, int32(limit), int32(offset))
			if err != nil {
				return fmt.Errorf("failed to list records: %w", err)
			}

			return outputJSON(c.App.Writer, records)
		},
	}
}

func getRecordCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Get a stored record",
		ArgsUsage: "TX",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction id")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			rec, err := store.GetRecord(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get record: %w", err)
			}

			return outputJSON(c.App.Writer, rec)
		},
	}
}

func topicRecordsCommand() *cli.Command {
	return &cli.Command{
		Name:      "topic",
		Usage:     "List stored records whose memo references a topic",
		ArgsUsage: "TOPIC_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: topic id")
			}

			topicID, err := strconv.ParseInt(c.Args().First(), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid topic id: %w", err)
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			records, err := store.ListRecordsByTopic(c.Context, topicID)
			if err != nil {
				return fmt.Errorf("failed to list records: %w", err)
			}

			return outputJSON(c.App.Writer, records)
		},
	}
}

func deleteRecordCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a stored record",
		Aliases:   []string{"rm"},
		ArgsUsage: "TX",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction id")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			tx := c.Args().First()
			if err := store.DeleteRecord(c.Context, tx); err != nil {
				return fmt.Errorf("failed to delete record: %w", err)
			}

			return outputJSON(c.App.Writer, map[string]string{"deleted": tx})
		},
	}
}

// getStore opens a Store from the --database-url flag and ensures the schema exists.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool, nil)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	return store, func() { pool.Close() }, nil
}

// outputJSON writes indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
