// Package history records what has been read, one row per chapter.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ssh-vom/boox-reader/internal/providers/manga"
)

//go:embed schema.sql
var schemaSQL string

// Progress is the stored reading state of one chapter.
type Progress struct {
	ChapterID string
	MangaID   string
	Number    string
	Title     string
	LastPage  int
	PageCount int
	Completed bool
	OpenedAt  time.Time
	UpdatedAt time.Time
}

// Store implements the reader's progress hooks on top of SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("unable to create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("unable to open history: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to connect to history: %w", err)
	}

	// SQLite allows one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("unable to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to apply history schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (store *Store) Close() error {
	if store.db == nil {
		return nil
	}
	return store.db.Close()
}

// ChapterOpened records that chapter was opened, keeping earlier progress.
func (store *Store) ChapterOpened(ctx context.Context, chapter manga.Chapter) error {
	now := store.now().Unix()
	_, err := store.db.ExecContext(ctx, `
		INSERT INTO chapters (chapter_id, manga_id, number, title, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (chapter_id) DO UPDATE SET
			number = excluded.number,
			title = excluded.title,
			updated_at = excluded.updated_at`,
		chapter.ID, chapter.MangaID, chapter.Number, chapter.Title, now, now)
	if err != nil {
		return fmt.Errorf("record chapter %s: %w", chapter.ID, err)
	}
	return nil
}

// PageViewed moves the stored position of chapter forward. Reaching the last
// page marks the chapter completed; scrolling back never clears it.
func (store *Store) PageViewed(ctx context.Context, chapter manga.Chapter, position, pageCount int) error {
	now := store.now().Unix()
	completed := pageCount > 0 && position >= pageCount-1
	_, err := store.db.ExecContext(ctx, `
		INSERT INTO chapters (chapter_id, manga_id, number, title, last_page, page_count, completed, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chapter_id) DO UPDATE SET
			last_page = MAX(chapters.last_page, excluded.last_page),
			page_count = excluded.page_count,
			completed = MAX(chapters.completed, excluded.completed),
			updated_at = excluded.updated_at`,
		chapter.ID, chapter.MangaID, chapter.Number, chapter.Title, position, pageCount, completed, now, now)
	if err != nil {
		return fmt.Errorf("record progress for %s: %w", chapter.ID, err)
	}
	return nil
}

// Progress returns the stored state of chapterID, or false if it was never
// opened.
func (store *Store) Progress(ctx context.Context, chapterID string) (Progress, bool, error) {
	row := store.db.QueryRowContext(ctx, `
		SELECT chapter_id, manga_id, number, title, last_page, page_count, completed, opened_at, updated_at
		FROM chapters WHERE chapter_id = ?`, chapterID)

	progress, err := scanProgress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Progress{}, false, nil
	}
	if err != nil {
		return Progress{}, false, fmt.Errorf("load progress for %s: %w", chapterID, err)
	}
	return progress, true, nil
}

// ReadChapters returns the progress of every opened chapter of mangaID keyed
// by chapter id.
func (store *Store) ReadChapters(ctx context.Context, mangaID string) (map[string]Progress, error) {
	rows, err := store.db.QueryContext(ctx, `
		SELECT chapter_id, manga_id, number, title, last_page, page_count, completed, opened_at, updated_at
		FROM chapters WHERE manga_id = ?`, mangaID)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", mangaID, err)
	}
	defer rows.Close()

	result := make(map[string]Progress)
	for rows.Next() {
		progress, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("load history for %s: %w", mangaID, err)
		}
		result[progress.ChapterID] = progress
	}
	return result, rows.Err()
}

// Recent returns the most recently touched chapters, newest first.
func (store *Store) Recent(ctx context.Context, limit int) ([]Progress, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := store.db.QueryContext(ctx, `
		SELECT chapter_id, manga_id, number, title, last_page, page_count, completed, opened_at, updated_at
		FROM chapters ORDER BY updated_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("load recent history: %w", err)
	}
	defer rows.Close()

	var result []Progress
	for rows.Next() {
		progress, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("load recent history: %w", err)
		}
		result = append(result, progress)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProgress(row scanner) (Progress, error) {
	var progress Progress
	var opened, updated int64
	err := row.Scan(&progress.ChapterID, &progress.MangaID, &progress.Number, &progress.Title,
		&progress.LastPage, &progress.PageCount, &progress.Completed, &opened, &updated)
	if err != nil {
		return Progress{}, err
	}
	progress.OpenedAt = time.Unix(opened, 0)
	progress.UpdatedAt = time.Unix(updated, 0)
	return progress, nil
}
