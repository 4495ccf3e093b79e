package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	natspkg "github.com/HelloWorldImJoe/v2ex-tx2json/service/nats"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand subscribes to published record events.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to record events, optionally for a single topic",
		ArgsUsage: "[TOPIC_ID]",
		Description: `Streams record events published to NATS JetStream, one JSON object per line.

Events are published to the subject txrecords.{topic_id}, or txrecords.none
when the memo references no topic. Without TOPIC_ID every event is streamed.

Example:
  tx2json nats subscribe --jq '.amount_value' 1234`,
		Flags: append(jqFlags(),
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "tx2json-cli",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Replay every retained event instead of only new ones",
			},
		),
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("accepts at most one argument: topic id")
			}

			subject := natspkg.StreamSubjects
			if raw := c.Args().First(); raw != "" {
				topicID, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid topic id: %w", err)
				}
				subject = natspkg.TopicSubject(&topicID)
			}

			filters, err := compileJQFlags(c)
			if err != nil {
				return err
			}

			consumerConfig := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
				DeliverPolicy: jetstream.DeliverNewPolicy,
			}
			if c.Bool("all") {
				consumerConfig.DeliverPolicy = jetstream.DeliverAllPolicy
			}
			if c.Bool("durable") {
				consumerConfig.Durable = c.String("consumer-name")
				consumerConfig.Name = c.String("consumer-name")
			}

			return streamRecords(c, c.String("nats-url"), consumerConfig, filters)
		},
	}
}

// streamRecords connects to NATS and prints record events until interrupted.
func streamRecords(c *cli.Context, natsURL string, consumerConfig jetstream.ConsumerConfig, filters *jqFilters) error {
	nc, err := natspkg.Connect(natsURL, "tx2json-cli")
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	fmt.Fprintf(os.Stderr, "subscribed to %s on %s (Ctrl-C to exit)\n", consumerConfig.FilterSubject, natsURL)

	msgChan := make(chan jetstream.Msg, 10)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		select {
		case msgChan <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}
	defer cc.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.RecordEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				msg.Ack()
				continue
			}
			msg.Ack()

			if err := emitRecord(c.App.Writer, event.Record, filters); err != nil {
				fmt.Fprintf(os.Stderr, "skipping %s: %v\n", event.TxHash, err)
				continue
			}
			count++

		case <-ctx.Done():
			fmt.Fprintf(os.Stderr, "received %d records\n", count)
			return nil
		}
	}
}
