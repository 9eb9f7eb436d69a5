package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the call_events table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS call_events (
    call_id    TEXT NOT NULL,
    seq        BIGINT NOT NULL,
    kind       TEXT NOT NULL,
    payload    JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (call_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_call_events_call ON call_events(call_id);
`

// Event kind discriminators for the call_events.kind column.
const (
	kindMessage      = "message"
	kindActionStart  = "action_start"
	kindActionFinish = "action_finish"
	kindConference   = "conference"
)

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore persists call transcripts to a PostgreSQL call_events table,
// one row per event, keyed by call id and sequence number. Events are stored
// as JSONB with a kind discriminator so the log can be reloaded losslessly.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a store over the given connection or pool. The
// caller is responsible for calling [PostgresStore.Migrate] before issuing
// queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL, creating the call_events table and
// index if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("transcript: migrate: %w", err)
	}
	return nil
}

// Append persists one event under callID at position seq. Sequence numbers
// are assigned by the caller and must be unique per call.
func (s *PostgresStore) Append(ctx context.Context, callID string, seq int64, e Event) error {
	kind, payload, err := encodeEvent(e)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO call_events (call_id, seq, kind, payload)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.db.Exec(ctx, query, callID, seq, kind, payload); err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("transcript: event %d for call %q already recorded", seq, callID)
		}
		return fmt.Errorf("transcript: append: %w", err)
	}
	return nil
}

// SaveAll persists an entire transcript snapshot for callID, numbering events
// from zero. Useful at call teardown when events were not streamed out live.
func (s *PostgresStore) SaveAll(ctx context.Context, callID string, t *Transcript) error {
	for i, e := range t.Events() {
		if err := s.Append(ctx, callID, int64(i), e); err != nil {
			return err
		}
	}
	return nil
}

// Load reloads the event log for callID in sequence order. A call with no
// recorded events returns an empty slice, not an error.
func (s *PostgresStore) Load(ctx context.Context, callID string) ([]Event, error) {
	const query = `
		SELECT kind, payload
		FROM   call_events
		WHERE  call_id = $1
		ORDER  BY seq`

	rows, err := s.db.Query(ctx, query, callID)
	if err != nil {
		return nil, fmt.Errorf("transcript: load %q: %w", callID, err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var kind string
		var payload []byte
		if err := rows.Scan(&kind, &payload); err != nil {
			return nil, fmt.Errorf("transcript: load scan: %w", err)
		}
		e, err := decodeEvent(kind, payload)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transcript: load %q: %w", callID, err)
	}
	return events, nil
}

// Delete removes all recorded events for callID. Deleting an unknown call is
// not an error.
func (s *PostgresStore) Delete(ctx context.Context, callID string) error {
	const query = `DELETE FROM call_events WHERE call_id = $1`
	if _, err := s.db.Exec(ctx, query, callID); err != nil {
		return fmt.Errorf("transcript: delete %q: %w", callID, err)
	}
	return nil
}

// eventRecord is the JSONB payload shape shared by all event kinds. Unused
// fields stay at their zero values and marshal away via omitempty.
type eventRecord struct {
	Sender          Sender    `json:"sender,omitempty"`
	Text            string    `json:"text,omitempty"`
	ToolCallID      string    `json:"tool_call_id,omitempty"`
	Action          string    `json:"action,omitempty"`
	Arguments       string    `json:"arguments,omitempty"`
	Output          string    `json:"output,omitempty"`
	PhraseTriggered bool      `json:"phrase_triggered,omitempty"`
	Time            time.Time `json:"time"`
}

func encodeEvent(e Event) (string, []byte, error) {
	var kind string
	var rec eventRecord
	switch ev := e.(type) {
	case Message:
		kind = kindMessage
		rec = eventRecord{Sender: ev.Sender, Text: ev.Text, Time: ev.Time}
	case ActionStart:
		kind = kindActionStart
		rec = eventRecord{
			ToolCallID: ev.ToolCallID, Action: ev.Action, Arguments: ev.Arguments,
			PhraseTriggered: ev.PhraseTriggered, Time: ev.Time,
		}
	case ActionFinish:
		kind = kindActionFinish
		rec = eventRecord{
			ToolCallID: ev.ToolCallID, Action: ev.Action, Output: ev.Output,
			PhraseTriggered: ev.PhraseTriggered, Time: ev.Time,
		}
	case ConferenceEvent:
		kind = kindConference
		rec = eventRecord{Text: ev.Text, Time: ev.Time}
	default:
		return "", nil, fmt.Errorf("transcript: unknown event type %T", e)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return "", nil, fmt.Errorf("transcript: marshal %s: %w", kind, err)
	}
	return kind, payload, nil
}

func decodeEvent(kind string, payload []byte) (Event, error) {
	var rec eventRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("transcript: unmarshal %s: %w", kind, err)
	}
	switch kind {
	case kindMessage:
		return Message{Sender: rec.Sender, Text: rec.Text, Time: rec.Time}, nil
	case kindActionStart:
		return ActionStart{
			ToolCallID: rec.ToolCallID, Action: rec.Action, Arguments: rec.Arguments,
			PhraseTriggered: rec.PhraseTriggered, Time: rec.Time,
		}, nil
	case kindActionFinish:
		return ActionFinish{
			ToolCallID: rec.ToolCallID, Action: rec.Action, Output: rec.Output,
			PhraseTriggered: rec.PhraseTriggered, Time: rec.Time,
		}, nil
	case kindConference:
		return ConferenceEvent{Text: rec.Text, Time: rec.Time}, nil
	default:
		return nil, fmt.Errorf("transcript: unknown event kind %q", kind)
	}
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
