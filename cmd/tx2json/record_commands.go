package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/HelloWorldImJoe/v2ex-tx2json/client"
	"github.com/HelloWorldImJoe/v2ex-tx2json/service/explorer"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func jqFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "jq",
			Usage: "jq filter applied to the record before printing (e.g. '.amount_value')",
		},
		&cli.StringSliceFlag{
			Name:  "must-jq",
			Usage: "jq predicate the record must satisfy; repeatable, all must hold (e.g. '.topic_id != null')",
		},
	}
}

func extractCommand() *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "Extract a record from a saved transaction page",
		ArgsUsage: "[FILE|-]",
		Description: `Reads transaction page HTML from FILE, or from stdin when FILE is
omitted or "-", and prints the extracted record as JSON.

Example:
  tx2json extract --jq '.sender.username' page.html`,
		Flags: jqFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("accepts at most one argument: file path")
			}

			in := c.App.Reader
			if path := c.Args().First(); path != "" && path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", path, err)
				}
				defer f.Close()
				in = f
			}

			filters, err := compileJQFlags(c)
			if err != nil {
				return err
			}

			html, err := readPage(in)
			if err != nil {
				return err
			}

			rec, err := explorer.Extract(html)
			if err != nil {
				return err
			}

			return emitRecord(c.App.Writer, rec, filters)
		},
	}
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Fetch a transaction page from the explorer and extract its record",
		ArgsUsage: "TX",
		Description: `Posts the transaction id to the explorer's /solana/tx page and prints
the extracted record as JSON.

Example:
  tx2json fetch --must-jq '.topic_id == 42' 5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7`,
		Flags: jqFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction id")
			}

			tx := c.Args().First()
			if err := client.ValidateSignature(tx); err != nil {
				return err
			}

			filters, err := compileJQFlags(c)
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelError,
			}))

			cl := client.NewClient(
				c.String("explorer-url"),
				c.String("explorer-cookie"),
				&http.Client{Timeout: c.Duration("http-timeout")},
				nil,
				logger,
			)

			rec, err := cl.Parse(c.Context, tx)
			if err != nil {
				return err
			}

			return emitRecord(c.App.Writer, rec, filters)
		},
	}
}

// readPage reads at most client.MaxBodySize bytes of HTML.
func readPage(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, client.MaxBodySize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	if len(data) > client.MaxBodySize {
		return "", fmt.Errorf("input exceeds %d bytes", client.MaxBodySize)
	}
	return string(data), nil
}

// jqFilters holds the compiled --jq and --must-jq flags.
type jqFilters struct {
	transform *gojq.Code
	must      []*gojq.Code
}

func compileJQFlags(c *cli.Context) (*jqFilters, error) {
	filters := &jqFilters{}

	if expr := c.String("jq"); expr != "" {
		code, err := compileJQ(expr)
		if err != nil {
			return nil, err
		}
		filters.transform = code
	}

	for _, expr := range c.StringSlice("must-jq") {
		code, err := compileJQ(expr)
		if err != nil {
			return nil, err
		}
		filters.must = append(filters.must, code)
	}

	return filters, nil
}

func compileJQ(expr string) (*gojq.Code, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
	}
	return code, nil
}

// emitRecord checks rec against the predicates and prints it, or the
// results of the transform filter, as JSON.
func emitRecord(w io.Writer, rec explorer.Record, filters *jqFilters) error {
	if filters == nil || (filters.transform == nil && len(filters.must) == 0) {
		return outputJSON(w, rec)
	}

	// gojq only operates on plain JSON values.
	v, err := toJQValue(rec)
	if err != nil {
		return err
	}

	for _, code := range filters.must {
		ok, err := matches(code, v)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("record %s did not match filter", rec.TxHash)
		}
	}

	if filters.transform == nil {
		return outputJSON(w, rec)
	}

	iter := filters.transform.Run(v)
	for {
		out, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := out.(error); isErr {
			return fmt.Errorf("jq filter failed: %w", err)
		}
		if err := outputJSON(w, out); err != nil {
			return err
		}
	}
}

func toJQValue(rec explorer.Record) (any, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return v, nil
}

// matches runs a predicate and reports whether its first result is truthy.
func matches(code *gojq.Code, v any) (bool, error) {
	iter := code.Run(v)
	out, ok := iter.Next()
	if !ok {
		return false, nil
	}
	if err, isErr := out.(error); isErr {
		return false, fmt.Errorf("jq filter failed: %w", err)
	}
	return isTruthy(out), nil
}

// isTruthy follows jq semantics: only false and null are falsy.
func isTruthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}
