package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/HelloWorldImJoe/v2ex-tx2json/service/explorer"
	"github.com/HelloWorldImJoe/v2ex-tx2json/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const table = "tx_records"

// ErrNotFound is returned when no record exists for the requested key.
var ErrNotFound = errors.New("record not found")

// Store persists extracted transaction records in Postgres.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If m is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// StoredRecord is a record together with its bookkeeping timestamps.
type StoredRecord struct {
	explorer.Record
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EnsureSchema creates the tables and indexes if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const recordColumns = `tx_hash,
	sender_username, sender_avatar, sender_uid,
	receiver_username, receiver_avatar, receiver_uid,
	token_type, token_address, amount, amount_value,
	time_text, memo, topic_id, created_at, updated_at`

// UpsertRecord inserts rec, or overwrites the stored copy when the hash is already known.
func (s *Store) UpsertRecord(ctx context.Context, rec explorer.Record) (*StoredRecord, error) {
	const query = `INSERT INTO tx_records (
		tx_hash,
		sender_username, sender_avatar, sender_uid,
		receiver_username, receiver_avatar, receiver_uid,
		token_type, token_address, amount, amount_value,
		time_text, memo, topic_id
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (tx_hash) DO UPDATE SET
		sender_username = EXCLUDED.sender_username,
		sender_avatar = EXCLUDED.sender_avatar,
		sender_uid = EXCLUDED.sender_uid,
		receiver_username = EXCLUDED.receiver_username,
		receiver_avatar = EXCLUDED.receiver_avatar,
		receiver_uid = EXCLUDED.receiver_uid,
		token_type = EXCLUDED.token_type,
		token_address = EXCLUDED.token_address,
		amount = EXCLUDED.amount,
		amount_value = EXCLUDED.amount_value,
		time_text = EXCLUDED.time_text,
		memo = EXCLUDED.memo,
		topic_id = EXCLUDED.topic_id,
		updated_at = NOW()
	RETURNING ` + recordColumns

	start := time.Now()
	row := s.pool.QueryRow(ctx, query,
		rec.TxHash,
		pgtextFromStringPtr(rec.Sender.Username),
		pgtextFromStringPtr(rec.Sender.Avatar),
		pgtextFromStringPtr(rec.Sender.UID),
		pgtextFromStringPtr(rec.Receiver.Username),
		pgtextFromStringPtr(rec.Receiver.Avatar),
		pgtextFromStringPtr(rec.Receiver.UID),
		pgtextFromStringPtr(rec.TokenType),
		pgtextFromStringPtr(rec.TokenAddress),
		pgtextFromStringPtr(rec.Amount),
		pgfloatFromFloatPtr(rec.AmountValue),
		pgtextFromStringPtr(rec.Time),
		pgtextFromStringPtr(rec.Memo),
		pgintFromIntPtr(rec.TopicID),
	)
	stored, err := scanRecord(row)
	s.metrics.RecordDBQuery("upsert", table, time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert record %s: %w", rec.TxHash, err)
	}
	return stored, nil
}

// GetRecord retrieves a record by transaction hash.
func (s *Store) GetRecord(ctx context.Context, txHash string) (*StoredRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM tx_records WHERE tx_hash = $1`

	start := time.Now()
	stored, err := scanRecord(s.pool.QueryRow(ctx, query, txHash))
	s.metrics.RecordDBQuery("get", table, time.Since(start).Seconds(), err)
	if err != nil {
		return nil, translateErr(err)
	}
	return stored, nil
}

// ListRecords returns records newest first.
func (s *Store) ListRecords(ctx context.Context, limit, offset int32) ([]*StoredRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM tx_records
		ORDER BY created_at DESC, tx_hash
		LIMIT $1 OFFSET $2`
	return s.list(ctx, "list", query, limit, offset)
}

// ListRecordsByTopic returns every record whose memo references topicID, newest first.
func (s *Store) ListRecordsByTopic(ctx context.Context, topicID int64) ([]*StoredRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM tx_records
		WHERE topic_id = $1
		ORDER BY created_at DESC, tx_hash`
	return s.list(ctx, "list_by_topic", query, topicID)
}

// CountRecords counts stored records.
func (s *Store) CountRecords(ctx context.Context) (n int64, err error) {
	defer metrics.Timer(time.Now(), func(d float64) {
		s.metrics.RecordDBQuery("count", table, d, err)
	})()

	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tx_records`).Scan(&n)
	return n, err
}

// DeleteRecord removes a record. It returns ErrNotFound if nothing was deleted.
func (s *Store) DeleteRecord(ctx context.Context, txHash string) error {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, `DELETE FROM tx_records WHERE tx_hash = $1`, txHash)
	s.metrics.RecordDBQuery("delete", table, time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("failed to delete record %s: %w", txHash, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) list(ctx context.Context, operation, query string, args ...any) (records []*StoredRecord, err error) {
	defer metrics.Timer(time.Now(), func(d float64) {
		s.metrics.RecordDBQuery(operation, table, d, err)
	})()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records = make([]*StoredRecord, 0)
	for rows.Next() {
		stored, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, stored)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// recordRow mirrors a tx_records row.
type recordRow struct {
	TxHash           string
	SenderUsername   pgtype.Text
	SenderAvatar     pgtype.Text
	SenderUID        pgtype.Text
	ReceiverUsername pgtype.Text
	ReceiverAvatar   pgtype.Text
	ReceiverUID      pgtype.Text
	TokenType        pgtype.Text
	TokenAddress     pgtype.Text
	Amount           pgtype.Text
	AmountValue      pgtype.Float8
	TimeText         pgtype.Text
	Memo             pgtype.Text
	TopicID          pgtype.Int8
	CreatedAt        pgtype.Timestamptz
	UpdatedAt        pgtype.Timestamptz
}

func scanRecord(row pgx.Row) (*StoredRecord, error) {
	var r recordRow
	err := row.Scan(
		&r.TxHash,
		&r.SenderUsername, &r.SenderAvatar, &r.SenderUID,
		&r.ReceiverUsername, &r.ReceiverAvatar, &r.ReceiverUID,
		&r.TokenType, &r.TokenAddress, &r.Amount, &r.AmountValue,
		&r.TimeText, &r.Memo, &r.TopicID, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rowToDomain(&r), nil
}

// Helper functions to convert between pgtype and domain types

func rowToDomain(r *recordRow) *StoredRecord {
	return &StoredRecord{
		Record: explorer.Record{
			TxHash: r.TxHash,
			Sender: explorer.Identity{
				Username: stringPtrFromPgtext(r.SenderUsername),
				Avatar:   stringPtrFromPgtext(r.SenderAvatar),
				UID:      stringPtrFromPgtext(r.SenderUID),
			},
			Receiver: explorer.Identity{
				Username: stringPtrFromPgtext(r.ReceiverUsername),
				Avatar:   stringPtrFromPgtext(r.ReceiverAvatar),
				UID:      stringPtrFromPgtext(r.ReceiverUID),
			},
			TokenType:    stringPtrFromPgtext(r.TokenType),
			TokenAddress: stringPtrFromPgtext(r.TokenAddress),
			Amount:       stringPtrFromPgtext(r.Amount),
			AmountValue:  floatPtrFromPgfloat(r.AmountValue),
			Time:         stringPtrFromPgtext(r.TimeText),
			Memo:         stringPtrFromPgtext(r.Memo),
			TopicID:      intPtrFromPgint(r.TopicID),
		},
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}
}

func translateErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func pgfloatFromFloatPtr(f *float64) pgtype.Float8 {
	if f == nil {
		return pgtype.Float8{Valid: false}
	}
	return pgtype.Float8{Float64: *f, Valid: true}
}

func floatPtrFromPgfloat(f pgtype.Float8) *float64 {
	if !f.Valid {
		return nil
	}
	return &f.Float64
}

func pgintFromIntPtr(i *int64) pgtype.Int8 {
	if i == nil {
		return pgtype.Int8{Valid: false}
	}
	return pgtype.Int8{Int64: *i, Valid: true}
}

func intPtrFromPgint(i pgtype.Int8) *int64 {
	if !i.Valid {
		return nil
	}
	return &i.Int64
}
