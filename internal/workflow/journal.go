package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/holee9/hnvue/internal/herrors"
)

// Journal is the durable, append-only transition log. Entries are
// never mutated once acknowledged.
type Journal interface {
	// Append writes entry durably and blocks until acknowledged. entry.
	// Sequence and entry.TransitionID are assigned by Append.
	Append(ctx context.Context, entry *JournalEntry) error
	// Tail returns the most recently appended entry, or nil if the
	// journal is empty.
	Tail(ctx context.Context) (*JournalEntry, error)
}

// PostgresJournal persists entries to a Postgres `journal_entries`
// table via database/sql + lib/pq, with synchronous commit standing in
// for the fsync-equivalent durability spec §3 requires.
type PostgresJournal struct {
	db *sql.DB
}

// NewPostgresJournal opens (but does not migrate) the journal table at
// dsn.
func NewPostgresJournal(dsn string) (*PostgresJournal, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, herrors.New("journal.Open", herrors.KindJournal, err)
	}
	return &PostgresJournal{db: db}, nil
}

const insertJournalEntry = `
INSERT INTO journal_entries
	(transition_id, utc_timestamp, from_state, to_state, trigger,
	 guard_results, operator_id, study_uid, metadata, category, sequence)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
	coalesce((SELECT max(sequence) FROM journal_entries), -1) + 1)
RETURNING sequence`

func (j *PostgresJournal) Append(ctx context.Context, entry *JournalEntry) error {
	if entry.TransitionID == "" {
		entry.TransitionID = uuid.NewString()
	}
	guardJSON, err := encodeGuardResults(entry.GuardResults)
	if err != nil {
		return herrors.New("journal.Append", herrors.KindJournal, err)
	}
	metaJSON, err := encodeMetadata(entry.Metadata)
	if err != nil {
		return herrors.New("journal.Append", herrors.KindJournal, err)
	}

	row := j.db.QueryRowContext(ctx, insertJournalEntry,
		entry.TransitionID, entry.UTCTimestamp, entry.From.String(), entry.To.String(),
		string(entry.Trigger), guardJSON, entry.OperatorID, entry.StudyUID, metaJSON,
		entry.Category.String())
	if err := row.Scan(&entry.Sequence); err != nil {
		return herrors.New("journal.Append", herrors.KindJournal, err)
	}
	return nil
}

func (j *PostgresJournal) Tail(ctx context.Context) (*JournalEntry, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT transition_id, utc_timestamp, from_state, to_state, trigger,
		       operator_id, study_uid, category, sequence
		FROM journal_entries ORDER BY sequence DESC LIMIT 1`)

	var e JournalEntry
	var from, to, cat string
	if err := row.Scan(&e.TransitionID, &e.UTCTimestamp, &from, &to, &e.Trigger,
		&e.OperatorID, &e.StudyUID, &cat, &e.Sequence); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, herrors.New("journal.Tail", herrors.KindJournal, err)
	}
	e.From = parseState(from)
	e.To = parseState(to)
	return &e, nil
}

// MemoryJournal is an in-process journal used by tests and by the
// recovery service's unit tests; it satisfies the same Journal
// interface as PostgresJournal.
type MemoryJournal struct {
	mu      sync.Mutex
	entries []*JournalEntry
	seq     int64
	// FailNext, when > 0, makes the next N Append calls fail, to
	// exercise the JournalError path deterministically.
	FailNext int
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Append(_ context.Context, entry *JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.FailNext > 0 {
		j.FailNext--
		return herrors.New("journal.Append", herrors.KindJournal, fmt.Errorf("simulated journal write failure"))
	}

	if entry.TransitionID == "" {
		entry.TransitionID = uuid.NewString()
	}
	entry.Sequence = j.seq
	j.seq++
	cp := *entry
	j.entries = append(j.entries, &cp)
	return nil
}

func (j *MemoryJournal) Tail(_ context.Context) (*JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.entries) == 0 {
		return nil, nil
	}
	cp := *j.entries[len(j.entries)-1]
	return &cp, nil
}

// All returns a copy of every entry appended so far, in order.
func (j *MemoryJournal) All() []*JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*JournalEntry, len(j.entries))
	copy(out, j.entries)
	return out
}

func parseState(s string) State {
	for st := Idle; st <= PacsExport; st++ {
		if st.String() == s {
			return st
		}
	}
	return Idle
}
