package version

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"steward/internal/domain"
)

var ErrNotFound = errors.New("version not found")

// Controller keeps immutable, numbered snapshots per (entity_type, entity_id)
// in a versions table, with a current pointer used by normal reads. Versions
// are never mutated or deleted except by explicit retention pruning.
type Controller struct {
	DB  *sql.DB
	Now func() time.Time

	// mu serializes the read-max/write-next sequence per controller so a
	// concurrent writer cannot silently overwrite a higher version.
	mu sync.Mutex
}

func New(db *sql.DB) *Controller {
	return &Controller{DB: db, Now: time.Now}
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Diff lists top-level key changes between two snapshots. Keys prefixed with
// an underscore are ignored.
type Diff struct {
	Added    map[string]any            `json:"added,omitempty"`
	Removed  []string                  `json:"removed,omitempty"`
	Modified map[string]map[string]any `json:"modified,omitempty"`
}

func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// Save snapshots an entity as the next version, diffed against the prior
// snapshot. changeType defaults to create for version 1 and update otherwise.
func (c *Controller) Save(ctx context.Context, entityType, entityID string, entity map[string]any, changedBy, changeType string) (domain.VersionRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.save(ctx, entityType, entityID, entity, changedBy, changeType, nil)
}

func (c *Controller) save(ctx context.Context, entityType, entityID string, entity map[string]any, changedBy, changeType string, rollbackOf *int) (domain.VersionRecord, error) {
	if entityType == "" || entityID == "" {
		return domain.VersionRecord{}, errors.New("entity_type and entity_id required")
	}
	snapshot, err := yaml.Marshal(entity)
	if err != nil {
		return domain.VersionRecord{}, fmt.Errorf("marshal snapshot: %w", err)
	}

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.VersionRecord{}, err
	}
	defer tx.Rollback()

	var current int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version),0) FROM versions WHERE entity_type=? AND entity_id=?`,
		entityType, entityID).Scan(&current); err != nil {
		return domain.VersionRecord{}, fmt.Errorf("read max version: %w", err)
	}

	var prev map[string]any
	var prevVersion *int
	if current > 0 {
		var prevYAML string
		if err := tx.QueryRowContext(ctx,
			`SELECT snapshot_yaml FROM versions WHERE entity_type=? AND entity_id=? AND version=?`,
			entityType, entityID, current).Scan(&prevYAML); err != nil {
			return domain.VersionRecord{}, fmt.Errorf("read prior snapshot: %w", err)
		}
		if err := yaml.Unmarshal([]byte(prevYAML), &prev); err != nil {
			return domain.VersionRecord{}, fmt.Errorf("decode prior snapshot: %w", err)
		}
		v := current
		prevVersion = &v
	}
	if changeType == "" {
		changeType = domain.ChangeUpdate
		if current == 0 {
			changeType = domain.ChangeCreate
		}
	}

	diff := computeDiff(prev, entity)
	diffJSON, err := json.Marshal(diff)
	if err != nil {
		return domain.VersionRecord{}, fmt.Errorf("marshal diff: %w", err)
	}

	rec := domain.VersionRecord{
		EntityType:   entityType,
		EntityID:     entityID,
		Version:      current + 1,
		PrevVersion:  prevVersion,
		SnapshotYAML: string(snapshot),
		DiffJSON:     string(diffJSON),
		ChangedBy:    changedBy,
		ChangedAt:    c.now().UTC().Format(time.RFC3339),
		ChangeType:   changeType,
	}
	var rb any
	if rollbackOf != nil {
		rb = *rollbackOf
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO versions(entity_type,entity_id,version,prev_version,snapshot_yaml,diff_json,changed_by,changed_at,change_type,rollback_of)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rec.EntityType, rec.EntityID, rec.Version, nullableInt(prevVersion), rec.SnapshotYAML, rec.DiffJSON,
		rec.ChangedBy, rec.ChangedAt, rec.ChangeType, rb); err != nil {
		return domain.VersionRecord{}, fmt.Errorf("insert version: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO version_current(entity_type,entity_id,version) VALUES (?,?,?)
		 ON CONFLICT(entity_type,entity_id) DO UPDATE SET version=excluded.version`,
		rec.EntityType, rec.EntityID, rec.Version); err != nil {
		return domain.VersionRecord{}, fmt.Errorf("update current pointer: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.VersionRecord{}, err
	}
	return rec, nil
}

// Rollback loads the target snapshot and writes it as a new version tagged
// with rollback provenance. Old version numbers are never reused.
func (c *Controller) Rollback(ctx context.Context, entityType, entityID string, targetVersion int, changedBy string) (domain.VersionRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot, err := c.Snapshot(ctx, entityType, entityID, targetVersion)
	if err != nil {
		return domain.VersionRecord{}, err
	}
	return c.save(ctx, entityType, entityID, snapshot, changedBy, domain.ChangeRollback, &targetVersion)
}

// Snapshot decodes the stored snapshot of one version.
func (c *Controller) Snapshot(ctx context.Context, entityType, entityID string, v int) (map[string]any, error) {
	var raw string
	err := c.DB.QueryRowContext(ctx,
		`SELECT snapshot_yaml FROM versions WHERE entity_type=? AND entity_id=? AND version=?`,
		entityType, entityID, v).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := yaml.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return out, nil
}

// Current returns the snapshot the current pointer designates, with its
// version number.
func (c *Controller) Current(ctx context.Context, entityType, entityID string) (map[string]any, int, error) {
	var v int
	err := c.DB.QueryRowContext(ctx,
		`SELECT version FROM version_current WHERE entity_type=? AND entity_id=?`,
		entityType, entityID).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	snap, err := c.Snapshot(ctx, entityType, entityID, v)
	return snap, v, err
}

// History lists version records newest first, without snapshot bodies.
func (c *Controller) History(ctx context.Context, entityType, entityID string) ([]domain.VersionRecord, error) {
	rows, err := c.DB.QueryContext(ctx,
		`SELECT entity_type,entity_id,version,prev_version,diff_json,changed_by,changed_at,change_type
		 FROM versions WHERE entity_type=? AND entity_id=? ORDER BY version DESC`,
		entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.VersionRecord
	for rows.Next() {
		var rec domain.VersionRecord
		var prev sql.NullInt64
		if err := rows.Scan(&rec.EntityType, &rec.EntityID, &rec.Version, &prev, &rec.DiffJSON,
			&rec.ChangedBy, &rec.ChangedAt, &rec.ChangeType); err != nil {
			return nil, err
		}
		if prev.Valid {
			v := int(prev.Int64)
			rec.PrevVersion = &v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DiffVersions computes the top-level diff between two stored versions.
func (c *Controller) DiffVersions(ctx context.Context, entityType, entityID string, from, to int) (Diff, error) {
	a, err := c.Snapshot(ctx, entityType, entityID, from)
	if err != nil {
		return Diff{}, err
	}
	b, err := c.Snapshot(ctx, entityType, entityID, to)
	if err != nil {
		return Diff{}, err
	}
	return computeDiff(a, b), nil
}

// Prune removes all but the newest keep versions of an entity. This is the
// only sanctioned deletion of history.
func (c *Controller) Prune(ctx context.Context, entityType, entityID string, keep int) (int, error) {
	if keep < 1 {
		return 0, errors.New("keep must be at least 1")
	}
	var max int
	if err := c.DB.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version),0) FROM versions WHERE entity_type=? AND entity_id=?`,
		entityType, entityID).Scan(&max); err != nil {
		return 0, err
	}
	res, err := c.DB.ExecContext(ctx,
		`DELETE FROM versions WHERE entity_type=? AND entity_id=? AND version <= ?`,
		entityType, entityID, max-keep)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func computeDiff(prev, next map[string]any) Diff {
	d := Diff{
		Added:    map[string]any{},
		Modified: map[string]map[string]any{},
	}
	for k, v := range next {
		if strings.HasPrefix(k, "_") {
			continue
		}
		old, ok := prev[k]
		if !ok {
			d.Added[k] = v
			continue
		}
		if !reflect.DeepEqual(old, v) {
			d.Modified[k] = map[string]any{"from": old, "to": v}
		}
	}
	for k := range prev {
		if strings.HasPrefix(k, "_") {
			continue
		}
		if _, ok := next[k]; !ok {
			d.Removed = append(d.Removed, k)
		}
	}
	sort.Strings(d.Removed)
	return d
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
