package nats

import (
	"strconv"
	"time"

	"github.com/HelloWorldImJoe/v2ex-tx2json/service/explorer"
)

// SubjectPrefix is the leading token of every record subject.
const SubjectPrefix = "txrecords"

// RecordEvent represents an extracted record published to NATS.
// This is published to the subject "txrecords.{topic_id}" in JetStream, or
// "txrecords.none" when the memo references no topic.
type RecordEvent struct {
	explorer.Record

	// Source is "fetch" for records pulled from the explorer, "extract" for
	// records parsed from caller-supplied HTML.
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

// FromRecord wraps a record for publishing.
func FromRecord(rec explorer.Record, source string) *RecordEvent {
	return &RecordEvent{
		Record:      rec,
		Source:      source,
		PublishedAt: time.Now().UTC(),
	}
}

// Subject returns the JetStream subject the event is published to.
func (e *RecordEvent) Subject() string {
	return TopicSubject(e.TopicID)
}

// TopicSubject builds the subject for a topic id; nil maps to "none".
func TopicSubject(topicID *int64) string {
	if topicID == nil {
		return SubjectPrefix + ".none"
	}
	return SubjectPrefix + "." + strconv.FormatInt(*topicID, 10)
}
