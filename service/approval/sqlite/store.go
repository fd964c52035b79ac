// Package sqlite persists approval requests in SQLite through
// github.com/glebarez/go-sqlite.
//
// Update runs inside BEGIN IMMEDIATE, so the read-modify-write of one request
// holds the database write lock until commit, including across processes that
// share the file. Within a process, callers of the same request id queue on a
// per-key lock before touching the database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/glebarez/go-sqlite"
	"github.com/viant/tradegate/internal/keylock"
	mapproval "github.com/viant/tradegate/model/approval"
	"github.com/viant/tradegate/service/approval"
	"github.com/viant/tradegate/service/dao"
)

const driverName = "sqlite"

// Store implements approval.Store.
type Store struct {
	dsn   string
	locks *keylock.Locker

	mu sync.Mutex
	db *sql.DB
}

// New opens (and migrates) the database at dsn. A plain file path gets a
// busy timeout and WAL journal appended.
func New(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("missing sqlite dsn")
	}
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	s := &Store{dsn: dsn, locks: keylock.New()}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Create inserts a new request.
func (s *Store) Create(ctx context.Context, request *mapproval.Request) error {
	if request == nil {
		return dao.ErrNilEntity
	}
	if request.ID == "" {
		return dao.ErrInvalidID
	}
	doc, err := json.Marshal(request)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO approval_requests (id, status, owner, created_at_unix, version, doc)
VALUES (?, ?, ?, ?, ?, ?)
`, request.ID, string(request.Status), request.Owner, request.CreatedAt.UnixNano(), request.Version, string(doc))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return dao.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// Load reads a request by id.
func (s *Store) Load(ctx context.Context, id string) (*mapproval.Request, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM approval_requests WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dao.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(doc)
}

// List returns requests filtered by the State and Owner parameters, oldest first.
func (s *Store) List(ctx context.Context, parameters ...*dao.Parameter) ([]*mapproval.Request, error) {
	query := `SELECT doc FROM approval_requests`
	var (
		clauses []string
		args    []interface{}
	)
	for _, name := range []string{dao.ParamState, dao.ParamOwner} {
		p := dao.Lookup(name, parameters)
		if p == nil {
			continue
		}
		column := "status"
		if name == dao.ParamOwner {
			column = "owner"
		}
		values := toStrings(p.Value)
		if len(values) == 0 {
			continue
		}
		clauses = append(clauses, column+" IN ("+strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")+")")
		for _, v := range values {
			args = append(args, v)
		}
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at_unix, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ret []*mapproval.Request
	for rows.Next() {
		var doc string
		if err = rows.Scan(&doc); err != nil {
			return nil, err
		}
		request, err := decode(doc)
		if err != nil {
			return nil, err
		}
		ret = append(ret, request)
	}
	return ret, rows.Err()
}

// Update applies fn to the stored request inside an immediate transaction.
func (s *Store) Update(ctx context.Context, id string, fn dao.UpdateFunc[mapproval.Request]) (*mapproval.Request, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if _, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	var doc string
	err = conn.QueryRowContext(ctx, `SELECT doc FROM approval_requests WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dao.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	request, err := decode(doc)
	if err != nil {
		return nil, err
	}
	version := request.Version
	if err = fn(request); err != nil {
		return nil, err
	}
	data, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	result, err := conn.ExecContext(ctx, `
UPDATE approval_requests SET status = ?, owner = ?, version = ?, doc = ?
WHERE id = ? AND version = ?
`, string(request.Status), request.Owner, request.Version, string(data), id, version)
	if err != nil {
		return nil, err
	}
	if affected, _ := result.RowsAffected(); affected != 1 {
		return nil, fmt.Errorf("approval request %s changed concurrently", id)
	}
	if _, err = conn.ExecContext(ctx, "COMMIT"); err != nil {
		return nil, fmt.Errorf("failed to commit approval request %s: %w", id, err)
	}
	committed = true
	return request, nil
}

func (s *Store) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	db, err := sql.Open(driverName, s.dsn)
	if err != nil {
		return err
	}
	s.db = db
	return s.migrate()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS approval_requests (
  id TEXT PRIMARY KEY,
  status TEXT NOT NULL,
  owner TEXT NOT NULL,
  created_at_unix INTEGER NOT NULL,
  version INTEGER NOT NULL,
  doc TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_approval_requests_status ON approval_requests(status);
CREATE INDEX IF NOT EXISTS idx_approval_requests_owner ON approval_requests(owner);
`)
	return err
}

func decode(doc string) (*mapproval.Request, error) {
	request := &mapproval.Request{}
	if err := json.Unmarshal([]byte(doc), request); err != nil {
		return nil, fmt.Errorf("failed to decode approval request: %w", err)
	}
	return request, nil
}

func toStrings(value interface{}) []string {
	switch actual := value.(type) {
	case string:
		return []string{actual}
	case []string:
		return actual
	}
	return nil
}

var _ approval.Store = (*Store)(nil)
