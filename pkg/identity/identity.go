// Package identity maps natural keys (tag names, association types, word
// spellings, source fingerprints) to surrogate ids, creating rows on first use.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lanceczlt/Pun-Generator/pkg/db"
)

// ErrEmptyKey is returned when a natural key is blank.
var ErrEmptyKey = errors.New("identity: empty key")

// Kind selects the entity a key belongs to.
type Kind int

const (
	Tag Kind = iota
	AssocType
	WordSpelling
	SourceFingerprint
)

func (k Kind) String() string {
	if int(k) < len(tables) {
		return tables[k].table
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

type table struct {
	table, idCol, keyCol string
}

var tables = [...]table{
	Tag:               {"tag", "tag_id", "name"},
	AssocType:         {"assoc_type", "assoc_type_id", "name"},
	WordSpelling:      {"word_spelling", "word_id", "spelling"},
	SourceFingerprint: {"source", "src_id", "fingerprint"},
}

type key struct {
	kind Kind
	name string
}

// Cache resolves natural keys to ids for one ingestion session. It is safe for
// concurrent use, but assumes it is the only writer creating these rows.
type Cache struct {
	mu  sync.Mutex
	ids map[key]int64
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{ids: make(map[key]int64)}
}

// Resolve returns the id for name, creating the row when absent.
func (c *Cache) Resolve(ctx context.Context, exec db.DBExecutor, kind Kind, name string) (int64, error) {
	id, _, err := c.Ensure(ctx, exec, kind, name)
	return id, err
}

// Ensure is like Resolve and also reports whether this call created the row.
func (c *Cache) Ensure(ctx context.Context, exec db.DBExecutor, kind Kind, name string) (int64, bool, error) {
	if int(kind) >= len(tables) {
		return 0, false, fmt.Errorf("identity: unknown kind %d", int(kind))
	}
	if strings.TrimSpace(name) == "" {
		return 0, false, fmt.Errorf("%w: %s", ErrEmptyKey, kind)
	}
	k := key{kind, name}

	c.mu.Lock()
	id, ok := c.ids[k]
	c.mu.Unlock()
	if ok {
		return id, false, nil
	}

	id, created, err := lookupOrInsert(ctx, exec, tables[kind], name)
	if err != nil {
		return 0, false, err
	}

	c.mu.Lock()
	c.ids[k] = id
	c.mu.Unlock()
	return id, created, nil
}

// Reset drops every cached id. Call it after a rolled back transaction, since
// ids created inside it no longer exist.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.ids = make(map[key]int64)
	c.mu.Unlock()
}

// Len reports the number of cached keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

func lookupOrInsert(ctx context.Context, exec db.DBExecutor, t table, name string) (int64, bool, error) {
	sel := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ?`, t.idCol, t.table, t.keyCol)
	ins := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?) ON CONFLICT(%s) DO NOTHING RETURNING %s`,
		t.table, t.keyCol, t.keyCol, t.idCol)

	var id int64
	err := exec.QueryRowContext(ctx, sel, name).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("resolve %s %q: %w: %w", t.table, name, db.ErrStore, err)
	}

	err = exec.QueryRowContext(ctx, ins, name).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	// Lost a race with another writer; the row exists now.
	if !errors.Is(err, sql.ErrNoRows) && !db.IsUniqueConstraintErr(err) {
		return 0, false, fmt.Errorf("resolve %s %q: %w: %w", t.table, name, db.ErrStore, err)
	}
	if err := exec.QueryRowContext(ctx, sel, name).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("resolve %s %q: %w: %w", t.table, name, db.ErrStore, err)
	}
	return id, false, nil
}
