package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS boards (
	board_uri TEXT PRIMARY KEY,
	board_name TEXT NOT NULL DEFAULT '',
	board_description TEXT NOT NULL DEFAULT '',
	thread_count INTEGER NOT NULL DEFAULT 0,
	last_post_id INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS threads (
	board_uri TEXT NOT NULL,
	thread_id INTEGER NOT NULL,
	page INTEGER NOT NULL DEFAULT 1,
	pinned INTEGER NOT NULL DEFAULT 0,
	locked INTEGER NOT NULL DEFAULT 0,
	cyclic INTEGER NOT NULL DEFAULT 0,
	auto_sage INTEGER NOT NULL DEFAULT 0,
	last_bump INTEGER NOT NULL,
	creation INTEGER NOT NULL,
	post_count INTEGER NOT NULL DEFAULT 0,
	latest_posts TEXT NOT NULL DEFAULT '[]',
	subject TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (board_uri, thread_id)
);

CREATE INDEX IF NOT EXISTS idx_threads_bump ON threads(board_uri, last_bump DESC);

CREATE TABLE IF NOT EXISTS posts (
	board_uri TEXT NOT NULL,
	post_id INTEGER NOT NULL,
	thread_id INTEGER NOT NULL,
	creation INTEGER NOT NULL,
	subject TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (board_uri, post_id)
);

CREATE INDEX IF NOT EXISTS idx_posts_thread ON posts(board_uri, thread_id, creation);

CREATE TABLE IF NOT EXISTS languages (
	code TEXT PRIMARY KEY,
	header_values TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS language_headers (
	code TEXT NOT NULL,
	header_value TEXT NOT NULL,
	PRIMARY KEY (code, header_value)
);
`

const (
	threadColumns = `board_uri, thread_id, page, pinned, locked, cyclic, auto_sage,
		last_bump, creation, post_count, latest_posts, subject, name, email, message`
	postColumns  = `board_uri, post_id, thread_id, creation, subject, name, email, message`
	boardColumns = `board_uri, board_name, board_description, thread_count, last_post_id`

	cursorBatch = 64
)

// SQLiteStore is a SQLite-backed implementation of Store.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database file at path. Call Init
// before use.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListBoards(ctx context.Context) ([]Board, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+boardColumns+` FROM boards ORDER BY board_uri`)
	if err != nil {
		return nil, fmt.Errorf("query boards: %w", err)
	}
	return collectBoards(rows)
}

func (s *SQLiteStore) Boards(ctx context.Context) Cursor[Board] {
	return newKeysetCursor(cursorBatch, func(ctx context.Context, after *Board, limit int) ([]Board, error) {
		last := ""
		if after != nil {
			last = after.URI
		}
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+boardColumns+` FROM boards
			WHERE board_uri > ?
			ORDER BY board_uri
			LIMIT ?
		`, last, limit)
		if err != nil {
			return nil, fmt.Errorf("query boards: %w", err)
		}
		return collectBoards(rows)
	})
}

func (s *SQLiteStore) FindBoard(ctx context.Context, uri string) (Board, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+boardColumns+` FROM boards WHERE board_uri = ?`, uri)
	b, err := scanBoard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Board{}, fmt.Errorf("board %s: %w", uri, ErrNotFound)
	}
	if err != nil {
		return Board{}, fmt.Errorf("find board %s: %w", uri, err)
	}
	return b, nil
}

func (s *SQLiteStore) ExistingBoards(ctx context.Context, uris []string) ([]string, error) {
	if len(uris) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT board_uri FROM boards WHERE board_uri IN (`+placeholders(len(uris))+`)`,
		stringArgs(uris)...)
	if err != nil {
		return nil, fmt.Errorf("query existing boards: %w", err)
	}
	defer rows.Close()

	var found []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("scan board uri: %w", err)
		}
		found = append(found, uri)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boards: %w", err)
	}
	return found, nil
}

func (s *SQLiteStore) ThreadsByBump(ctx context.Context, uri string, skip, limit int) ([]Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+threadColumns+` FROM threads
		WHERE board_uri = ?
		ORDER BY last_bump DESC, thread_id DESC
		LIMIT ? OFFSET ?
	`, uri, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	return collectThreads(rows)
}

func (s *SQLiteStore) SetThreadsPage(ctx context.Context, uri string, threadIDs []int64, page int) error {
	if len(threadIDs) == 0 {
		return nil
	}
	args := append([]any{page, uri}, int64Args(threadIDs)...)
	_, err := s.db.ExecContext(ctx,
		`UPDATE threads SET page = ? WHERE board_uri = ? AND thread_id IN (`+placeholders(len(threadIDs))+`)`,
		args...)
	if err != nil {
		return fmt.Errorf("set threads page: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindThread(ctx context.Context, uri string, threadID int64) (Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE board_uri = ? AND thread_id = ?`, uri, threadID)
	t, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Thread{}, fmt.Errorf("thread %s/%d: %w", uri, threadID, ErrNotFound)
	}
	if err != nil {
		return Thread{}, fmt.Errorf("find thread %s/%d: %w", uri, threadID, err)
	}
	return t, nil
}

func (s *SQLiteStore) Threads(ctx context.Context, uri string) Cursor[Thread] {
	return newKeysetCursor(cursorBatch, func(ctx context.Context, after *Thread, limit int) ([]Thread, error) {
		var (
			rows *sql.Rows
			err  error
		)
		if after == nil {
			rows, err = s.db.QueryContext(ctx, `
				SELECT `+threadColumns+` FROM threads
				WHERE board_uri = ?
				ORDER BY thread_id
				LIMIT ?
			`, uri, limit)
		} else {
			rows, err = s.db.QueryContext(ctx, `
				SELECT `+threadColumns+` FROM threads
				WHERE board_uri = ? AND thread_id > ?
				ORDER BY thread_id
				LIMIT ?
			`, uri, after.ThreadID, limit)
		}
		if err != nil {
			return nil, fmt.Errorf("query threads: %w", err)
		}
		return collectThreads(rows)
	})
}

func (s *SQLiteStore) ThreadPosts(ctx context.Context, uri string, threadID int64) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE board_uri = ? AND thread_id = ?
		ORDER BY creation, post_id
	`, uri, threadID)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	return collectPosts(rows)
}

func (s *SQLiteStore) PostsByIDs(ctx context.Context, uri string, postIDs []int64) ([]Post, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}
	args := append([]any{uri}, int64Args(postIDs)...)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE board_uri = ? AND post_id IN (`+placeholders(len(postIDs))+`)
		ORDER BY creation, post_id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query preview posts: %w", err)
	}
	return collectPosts(rows)
}

func (s *SQLiteStore) CatalogThreads(ctx context.Context, uri string) ([]Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+threadColumns+` FROM threads
		WHERE board_uri = ?
		ORDER BY pinned DESC, last_bump DESC, thread_id DESC
	`, uri)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	return collectThreads(rows)
}

func (s *SQLiteStore) LatestThreads(ctx context.Context, uris []string, limit int) ([]Thread, error) {
	if len(uris) == 0 || limit <= 0 {
		return nil, nil
	}
	args := append(stringArgs(uris), limit)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+threadColumns+` FROM threads
		WHERE board_uri IN (`+placeholders(len(uris))+`)
		ORDER BY last_bump DESC, board_uri, thread_id DESC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query latest threads: %w", err)
	}
	return collectThreads(rows)
}

func (s *SQLiteStore) LanguagesMatching(ctx context.Context, tags []string) ([]Language, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, header_values FROM languages
		WHERE code IN (
			SELECT code FROM language_headers WHERE header_value IN (`+placeholders(len(tags))+`)
		)
		ORDER BY code
	`, stringArgs(tags)...)
	if err != nil {
		return nil, fmt.Errorf("query languages: %w", err)
	}
	defer rows.Close()

	var langs []Language
	for rows.Next() {
		var (
			lang   Language
			values string
		)
		if err := rows.Scan(&lang.Code, &values); err != nil {
			return nil, fmt.Errorf("scan language: %w", err)
		}
		if err := json.Unmarshal([]byte(values), &lang.HeaderValues); err != nil {
			return nil, fmt.Errorf("decode language %s: %w", lang.Code, err)
		}
		langs = append(langs, lang)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate languages: %w", err)
	}
	return langs, nil
}

// PutBoard inserts or replaces a board.
func (s *SQLiteStore) PutBoard(ctx context.Context, b Board) error {
	if b.URI == "" {
		return errors.New("board uri is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO boards (`+boardColumns+`) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(board_uri) DO UPDATE SET
			board_name = excluded.board_name,
			board_description = excluded.board_description,
			thread_count = excluded.thread_count,
			last_post_id = excluded.last_post_id
	`, b.URI, b.Name, b.Description, b.ThreadCount, b.LastPostID)
	if err != nil {
		return fmt.Errorf("put board %s: %w", b.URI, err)
	}
	return nil
}

// CreateThread inserts a thread and increments its board's thread count.
func (s *SQLiteStore) CreateThread(ctx context.Context, t Thread) error {
	if t.Creation.IsZero() {
		t.Creation = time.Now()
	}
	if t.LastBump.IsZero() {
		t.LastBump = t.Creation
	}
	if t.Page == 0 {
		t.Page = 1
	}
	latest, err := json.Marshal(nonNil(t.LatestPosts))
	if err != nil {
		return fmt.Errorf("encode latest posts: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE boards SET
				thread_count = thread_count + 1,
				last_post_id = MAX(last_post_id, ?)
			WHERE board_uri = ?
		`, t.ThreadID, t.BoardURI)
		if err != nil {
			return fmt.Errorf("update board: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("board %s: %w", t.BoardURI, ErrNotFound)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO threads (`+threadColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.BoardURI, t.ThreadID, t.Page, boolInt(t.Pinned), boolInt(t.Locked), boolInt(t.Cyclic),
			boolInt(t.AutoSage), t.LastBump.UnixMilli(), t.Creation.UnixMilli(), t.PostCount,
			string(latest), t.Subject, t.Name, t.Email, t.Message)
		if err != nil {
			return fmt.Errorf("insert thread: %w", err)
		}
		return nil
	})
}

// AddPost inserts a reply, appends it to the thread's latest posts (keeping
// at most previewCount, oldest dropped first) and bumps the thread unless it
// is auto-saged.
func (s *SQLiteStore) AddPost(ctx context.Context, p Post, previewCount int) error {
	if p.Creation.IsZero() {
		p.Creation = time.Now()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			latestRaw string
			autoSage  bool
		)
		err := tx.QueryRowContext(ctx,
			`SELECT latest_posts, auto_sage FROM threads WHERE board_uri = ? AND thread_id = ?`,
			p.BoardURI, p.ThreadID).Scan(&latestRaw, &autoSage)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("thread %s/%d: %w", p.BoardURI, p.ThreadID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load thread: %w", err)
		}

		var latest []int64
		if err := json.Unmarshal([]byte(latestRaw), &latest); err != nil {
			return fmt.Errorf("decode latest posts: %w", err)
		}
		latest = appendCapped(latest, p.PostID, previewCount)
		encoded, err := json.Marshal(nonNil(latest))
		if err != nil {
			return fmt.Errorf("encode latest posts: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO posts (`+postColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, p.BoardURI, p.PostID, p.ThreadID, p.Creation.UnixMilli(), p.Subject, p.Name, p.Email, p.Message); err != nil {
			return fmt.Errorf("insert post: %w", err)
		}

		bump := "last_bump"
		args := []any{string(encoded)}
		if !autoSage {
			bump = "?"
			args = append(args, p.Creation.UnixMilli())
		}
		args = append(args, p.BoardURI, p.ThreadID)
		if _, err := tx.ExecContext(ctx, `
			UPDATE threads SET
				latest_posts = ?,
				last_bump = `+bump+`,
				post_count = post_count + 1
			WHERE board_uri = ? AND thread_id = ?
		`, args...); err != nil {
			return fmt.Errorf("update thread: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE boards SET last_post_id = MAX(last_post_id, ?) WHERE board_uri = ?`,
			p.PostID, p.BoardURI); err != nil {
			return fmt.Errorf("update board: %w", err)
		}
		return nil
	})
}

// PutLanguage inserts or replaces a language and its header values.
func (s *SQLiteStore) PutLanguage(ctx context.Context, lang Language) error {
	if lang.Code == "" {
		return errors.New("language code is required")
	}
	encoded, err := json.Marshal(nonNil(lang.HeaderValues))
	if err != nil {
		return fmt.Errorf("encode header values: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO languages (code, header_values) VALUES (?, ?)
			ON CONFLICT(code) DO UPDATE SET header_values = excluded.header_values
		`, lang.Code, string(encoded)); err != nil {
			return fmt.Errorf("put language: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM language_headers WHERE code = ?`, lang.Code); err != nil {
			return fmt.Errorf("clear language headers: %w", err)
		}
		for _, v := range lang.HeaderValues {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO language_headers (code, header_value) VALUES (?, ?)`,
				lang.Code, v); err != nil {
				return fmt.Errorf("insert language header: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBoard(row scanner) (Board, error) {
	var b Board
	err := row.Scan(&b.URI, &b.Name, &b.Description, &b.ThreadCount, &b.LastPostID)
	return b, err
}

func scanThread(row scanner) (Thread, error) {
	var (
		t                  Thread
		lastBump, creation int64
		latest             string
	)
	err := row.Scan(&t.BoardURI, &t.ThreadID, &t.Page, &t.Pinned, &t.Locked, &t.Cyclic, &t.AutoSage,
		&lastBump, &creation, &t.PostCount, &latest, &t.Subject, &t.Name, &t.Email, &t.Message)
	if err != nil {
		return Thread{}, err
	}
	t.LastBump = time.UnixMilli(lastBump).UTC()
	t.Creation = time.UnixMilli(creation).UTC()
	if err := json.Unmarshal([]byte(latest), &t.LatestPosts); err != nil {
		return Thread{}, fmt.Errorf("decode latest posts: %w", err)
	}
	return t, nil
}

func scanPost(row scanner) (Post, error) {
	var (
		p        Post
		creation int64
	)
	err := row.Scan(&p.BoardURI, &p.PostID, &p.ThreadID, &creation, &p.Subject, &p.Name, &p.Email, &p.Message)
	if err != nil {
		return Post{}, err
	}
	p.Creation = time.UnixMilli(creation).UTC()
	return p, nil
}

func collectBoards(rows *sql.Rows) ([]Board, error) {
	defer rows.Close()
	boards := make([]Board, 0)
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		boards = append(boards, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boards: %w", err)
	}
	return boards, nil
}

func collectThreads(rows *sql.Rows) ([]Thread, error) {
	defer rows.Close()
	threads := make([]Thread, 0)
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}
	return threads, nil
}

func collectPosts(rows *sql.Rows) ([]Post, error) {
	defer rows.Close()
	posts := make([]Post, 0)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return posts, nil
}

func appendCapped(ids []int64, id int64, limit int) []int64 {
	if limit <= 0 {
		return ids[:0]
	}
	ids = append(ids, id)
	if len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	return ids
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func int64Args(values []int64) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
