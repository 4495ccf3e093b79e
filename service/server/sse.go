package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	natspkg "github.com/HelloWorldImJoe/v2ex-tx2json/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// RecordStream relays published record events to Server-Sent Events clients.
type RecordStream struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewRecordStream connects to NATS for SSE fan-out.
func NewRecordStream(natsURL string, logger *slog.Logger) (*RecordStream, error) {
	nc, err := natspkg.Connect(natsURL, "tx2json-sse")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("SSE record stream initialized", "nats_url", natsURL)

	return &RecordStream{
		nc:     nc,
		js:     js,
		logger: logger,
	}, nil
}

// Close closes the NATS connection.
func (p *RecordStream) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("SSE record stream closed")
	}
	return nil
}

// handleStreamRecords handles SSE streaming for newly published records.
// Without a topic_id path parameter every record is streamed; otherwise only
// records whose memo references that topic.
func handleStreamRecords(stream *RecordStream, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		subject := natspkg.StreamSubjects
		filter := "all topics"
		if raw := r.PathValue("topic_id"); raw != "" {
			topicID, err := parseTopicID(raw)
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			subject = natspkg.TopicSubject(&topicID)
			filter = raw
		}

		// Streams outlive the server's write timeout.
		http.NewResponseController(w).SetWriteDeadline(time.Time{})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		flush := func() {
			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}
		}
		flush()

		logger.DebugContext(ctx, "SSE client connected",
			"topic", filter,
			"remote_addr", r.RemoteAddr,
			"request_id", RequestIDFromContext(ctx),
		)

		// Ephemeral consumer; removed by the server once the connection closes.
		cons, err := stream.js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, jetstream.ConsumerConfig{
			FilterSubject:     subject,
			AckPolicy:         jetstream.AckExplicitPolicy,
			DeliverPolicy:     jetstream.DeliverNewPolicy,
			InactiveThreshold: time.Minute,
		})
		if err != nil {
			logger.ErrorContext(ctx, "failed to create consumer",
				"topic", filter,
				"error", err,
			)
			fmt.Fprintf(w, "event: error\ndata: {\"error\": \"failed to subscribe\"}\n\n")
			return
		}

		msgChan := make(chan jetstream.Msg, 10)
		doneChan := make(chan struct{})

		go func() {
			defer close(doneChan)
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				select {
				case msgChan <- msg:
				case <-ctx.Done():
					return
				}
			})
			if err != nil {
				logger.ErrorContext(ctx, "failed to start consuming messages",
					"error", err,
				)
				return
			}
			<-ctx.Done()
			cc.Stop()
		}()

		fmt.Fprintf(w, "event: connected\ndata: {\"topic\":%q}\n\n", filter)
		flush()

		keepalive := time.NewTicker(10 * time.Second)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flush()

			case msg := <-msgChan:
				var event natspkg.RecordEvent
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					logger.WarnContext(ctx, "failed to unmarshal event",
						"error", err,
					)
					msg.Ack()
					continue
				}

				data, err := json.Marshal(event)
				if err != nil {
					logger.WarnContext(ctx, "failed to marshal event",
						"error", err,
					)
					msg.Ack()
					continue
				}

				fmt.Fprintf(w, "event: record\ndata: %s\n\n", data)
				flush()
				msg.Ack()

				logger.DebugContext(ctx, "sent record event",
					"topic", filter,
					"tx_hash", event.TxHash,
				)

			case <-ctx.Done():
				logger.DebugContext(ctx, "SSE client disconnected",
					"topic", filter,
					"remote_addr", r.RemoteAddr,
				)
				return

			case <-doneChan:
				return
			}
		}
	})
}
