// Package catalog holds the exam protocol repository: the console's
// lookup table from (body part, projection, device model) to the
// generator/collimator/AEC defaults a technologist's protocol
// selection applies. Grounded on the teacher's ToolCatalog —
// same RWMutex-guarded map registry and Register/Get/Delete/List
// surface — generalized here from a tool-governance registry to a
// composite-keyed protocol table, plus a lib/pq-backed counterpart of
// the same ProtocolRepository interface.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/holee9/hnvue/internal/herrors"
)

// ExamProtocol is one registered technique for a body part / projection
// / device model combination.
type ExamProtocol struct {
	BodyPart      string
	Projection    string
	DeviceModel   string
	KVp           float64
	MA            float64
	MS            float64
	CollimationMm float64
	AECMode       int
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// protocolKey builds the upper-cased composite key spec.md §9's
// SQLite-vs-stub open question resolves to: one Postgres table, keyed
// by (BODY_PART, PROJECTION, DEVICE_MODEL), soft-deleted via IsActive
// rather than row removal.
func protocolKey(bodyPart, projection, deviceModel string) string {
	return strings.ToUpper(bodyPart) + "|" + strings.ToUpper(projection) + "|" + strings.ToUpper(deviceModel)
}

// ProtocolRepository is satisfied by both InMemoryProtocolRepository
// (tests, dev profile) and PostgresProtocolRepository (clinical
// profile).
type ProtocolRepository interface {
	Get(ctx context.Context, bodyPart, projection, deviceModel string) (*ExamProtocol, error)
	Upsert(ctx context.Context, p *ExamProtocol) error
	Deactivate(ctx context.Context, bodyPart, projection, deviceModel string) error
	List(ctx context.Context) ([]*ExamProtocol, error)
}

// InMemoryProtocolRepository is the in-process stand-in used by tests
// and the simulator deployment profile.
type InMemoryProtocolRepository struct {
	mu        sync.RWMutex
	protocols map[string]*ExamProtocol
}

// NewInMemoryProtocolRepository constructs an empty repository.
func NewInMemoryProtocolRepository() *InMemoryProtocolRepository {
	return &InMemoryProtocolRepository{protocols: make(map[string]*ExamProtocol)}
}

func (r *InMemoryProtocolRepository) Get(_ context.Context, bodyPart, projection, deviceModel string) (*ExamProtocol, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.protocols[protocolKey(bodyPart, projection, deviceModel)]
	if !ok || !p.IsActive {
		return nil, herrors.New("catalog.Get", herrors.KindParam, fmt.Errorf("no active protocol for %s/%s/%s", bodyPart, projection, deviceModel))
	}
	cp := *p
	return &cp, nil
}

func (r *InMemoryProtocolRepository) Upsert(_ context.Context, p *ExamProtocol) error {
	if p.BodyPart == "" || p.Projection == "" || p.DeviceModel == "" {
		return herrors.New("catalog.Upsert", herrors.KindParam, fmt.Errorf("body part, projection, and device model are required"))
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := protocolKey(p.BodyPart, p.Projection, p.DeviceModel)
	now := time.Now()
	if existing, ok := r.protocols[key]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.IsActive = true
	cp := *p
	r.protocols[key] = &cp
	return nil
}

func (r *InMemoryProtocolRepository) Deactivate(_ context.Context, bodyPart, projection, deviceModel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := protocolKey(bodyPart, projection, deviceModel)
	p, ok := r.protocols[key]
	if !ok {
		return herrors.New("catalog.Deactivate", herrors.KindParam, fmt.Errorf("no protocol for %s/%s/%s", bodyPart, projection, deviceModel))
	}
	p.IsActive = false
	p.UpdatedAt = time.Now()
	return nil
}

func (r *InMemoryProtocolRepository) List(_ context.Context) ([]*ExamProtocol, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ExamProtocol, 0, len(r.protocols))
	for _, p := range r.protocols {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

// PostgresProtocolRepository persists ExamProtocol rows to a Postgres
// `exam_protocols` table via database/sql + lib/pq, the same driver
// the workflow journal uses.
type PostgresProtocolRepository struct {
	db *sql.DB
}

// NewPostgresProtocolRepository opens (but does not migrate) the
// protocol table at dsn.
func NewPostgresProtocolRepository(dsn string) (*PostgresProtocolRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, herrors.New("catalog.Open", herrors.KindParam, err)
	}
	return &PostgresProtocolRepository{db: db}, nil
}

func (r *PostgresProtocolRepository) Get(ctx context.Context, bodyPart, projection, deviceModel string) (*ExamProtocol, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT body_part, projection, device_model, kvp, ma, ms, collimation_mm, aec_mode, is_active, created_at, updated_at
		FROM exam_protocols
		WHERE body_part = $1 AND projection = $2 AND device_model = $3 AND is_active = true`,
		strings.ToUpper(bodyPart), strings.ToUpper(projection), strings.ToUpper(deviceModel))

	var p ExamProtocol
	if err := row.Scan(&p.BodyPart, &p.Projection, &p.DeviceModel, &p.KVp, &p.MA, &p.MS,
		&p.CollimationMm, &p.AECMode, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, herrors.New("catalog.Get", herrors.KindParam, fmt.Errorf("no active protocol for %s/%s/%s", bodyPart, projection, deviceModel))
		}
		return nil, herrors.New("catalog.Get", herrors.KindParam, err)
	}
	return &p, nil
}

func (r *PostgresProtocolRepository) Upsert(ctx context.Context, p *ExamProtocol) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exam_protocols
			(body_part, projection, device_model, kvp, ma, ms, collimation_mm, aec_mode, is_active, updated_at)
		VALUES (upper($1), upper($2), upper($3), $4, $5, $6, $7, $8, true, now())
		ON CONFLICT (body_part, projection, device_model) DO UPDATE SET
			kvp = excluded.kvp, ma = excluded.ma, ms = excluded.ms,
			collimation_mm = excluded.collimation_mm, aec_mode = excluded.aec_mode,
			is_active = true, updated_at = now()`,
		p.BodyPart, p.Projection, p.DeviceModel, p.KVp, p.MA, p.MS, p.CollimationMm, p.AECMode)
	if err != nil {
		return herrors.New("catalog.Upsert", herrors.KindParam, err)
	}
	return nil
}

func (r *PostgresProtocolRepository) Deactivate(ctx context.Context, bodyPart, projection, deviceModel string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE exam_protocols SET is_active = false, updated_at = now()
		WHERE body_part = upper($1) AND projection = upper($2) AND device_model = upper($3)`,
		bodyPart, projection, deviceModel)
	if err != nil {
		return herrors.New("catalog.Deactivate", herrors.KindParam, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return herrors.New("catalog.Deactivate", herrors.KindParam, fmt.Errorf("no protocol for %s/%s/%s", bodyPart, projection, deviceModel))
	}
	return nil
}

func (r *PostgresProtocolRepository) List(ctx context.Context) ([]*ExamProtocol, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT body_part, projection, device_model, kvp, ma, ms, collimation_mm, aec_mode, is_active, created_at, updated_at
		FROM exam_protocols ORDER BY body_part, projection, device_model`)
	if err != nil {
		return nil, herrors.New("catalog.List", herrors.KindParam, err)
	}
	defer rows.Close()

	var out []*ExamProtocol
	for rows.Next() {
		var p ExamProtocol
		if err := rows.Scan(&p.BodyPart, &p.Projection, &p.DeviceModel, &p.KVp, &p.MA, &p.MS,
			&p.CollimationMm, &p.AECMode, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, herrors.New("catalog.List", herrors.KindParam, err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
