package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"docscope/internal/extractor"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQLStore persists documents in Postgres or SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// NewPostgres opens a Postgres-backed store and runs migrations.
func NewPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLStore{db: db, dialect: dialectPostgres}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLite opens (or creates) a SQLite database file.
func NewSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s := &SQLStore{db: db, dialect: dialectSQLite}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	if s.dialect == dialectPostgres {
		// Several processes may start together; only one runs DDL.
		const lockID = 482913
		var acquired bool
		if err := s.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired); err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		if !acquired {
			time.Sleep(2 * time.Second)
			return nil
		}
		defer func() {
			_, _ = s.db.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
		}()
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			filename TEXT NOT NULL,
			path TEXT NOT NULL,
			page_count INTEGER NOT NULL,
			metadata TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sections (
			doc_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			section_id TEXT NOT NULL,
			ord INTEGER NOT NULL,
			heading TEXT NOT NULL,
			level TEXT NOT NULL,
			content TEXT NOT NULL,
			page_num INTEGER NOT NULL,
			start_page INTEGER NOT NULL,
			end_page INTEGER NOT NULL,
			word_count INTEGER NOT NULL,
			PRIMARY KEY (doc_id, section_id)
		)`,
		`CREATE INDEX IF NOT EXISTS sections_doc_ord_idx ON sections (doc_id, ord)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *SQLStore) Put(ctx context.Context, doc Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM sections WHERE doc_id = ?`), doc.ID); err != nil {
		return fmt.Errorf("clear sections: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM documents WHERE id = ?`), doc.ID); err != nil {
		return fmt.Errorf("clear document: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO documents (id, title, filename, path, page_count, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		doc.ID, doc.Title, doc.Filename, doc.Path, doc.PageCount, string(meta), doc.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	insert := s.rebind(`INSERT INTO sections (doc_id, section_id, ord, heading, level, content, page_num, start_page, end_page, word_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for i, sec := range doc.Sections {
		if _, err := tx.ExecContext(ctx, insert,
			doc.ID, sec.ID, i, sec.Heading, string(sec.Level), sec.Content, sec.PageNum, sec.StartPage, sec.EndPage, sec.WordCount); err != nil {
			return fmt.Errorf("insert section %s: %w", sec.ID, err)
		}
	}
	return tx.Commit()
}

const documentColumns = `id, title, filename, path, page_count, metadata, created_at`
const sectionColumns = `section_id, doc_id, heading, level, content, page_num, start_page, end_page, word_count`

func (s *SQLStore) GetDocument(ctx context.Context, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+documentColumns+` FROM documents WHERE id = ?`), id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+sectionColumns+` FROM sections WHERE doc_id = ? ORDER BY ord`), id)
	if err != nil {
		return Document{}, err
	}
	defer rows.Close()
	for rows.Next() {
		sec, err := scanSection(rows)
		if err != nil {
			return Document{}, err
		}
		doc.Sections = append(doc.Sections, sec)
	}
	return doc, rows.Err()
}

func (s *SQLStore) GetSection(ctx context.Context, docID, sectionID string) (Section, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+sectionColumns+` FROM sections WHERE doc_id = ? AND section_id = ?`), docID, sectionID)
	sec, err := scanSection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Section{}, ErrNotFound
	}
	return sec, err
}

func (s *SQLStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents`)
	if err != nil {
		return nil, err
	}
	var docs []Document
	index := make(map[string]int)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[doc.ID] = len(docs)
		docs = append(docs, doc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	secRows, err := s.db.QueryContext(ctx, `SELECT `+sectionColumns+` FROM sections ORDER BY doc_id, ord`)
	if err != nil {
		return nil, err
	}
	defer secRows.Close()
	for secRows.Next() {
		sec, err := scanSection(secRows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[sec.DocID]; ok {
			docs[i].Sections = append(docs[i].Sections, sec)
		}
	}
	return docs, secRows.Err()
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM sections WHERE doc_id = ?`), id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM documents WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(sc scanner) (Document, error) {
	var (
		doc     Document
		meta    string
		created string
	)
	if err := sc.Scan(&doc.ID, &doc.Title, &doc.Filename, &doc.Path, &doc.PageCount, &meta, &created); err != nil {
		return Document{}, err
	}
	if meta != "" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
			return Document{}, fmt.Errorf("decode metadata for %s: %w", doc.ID, err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		doc.CreatedAt = t
	}
	return doc, nil
}

func scanSection(sc scanner) (Section, error) {
	var (
		sec   Section
		level string
	)
	err := sc.Scan(&sec.ID, &sec.DocID, &sec.Heading, &level, &sec.Content, &sec.PageNum, &sec.StartPage, &sec.EndPage, &sec.WordCount)
	sec.Level = extractor.Level(level)
	return sec, err
}
