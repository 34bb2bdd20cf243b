package archive

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"

	"github.com/orrn/printsink/internal/capture"
)

var (
	ErrMonthNotFound = errors.New("archive month not found")
	ErrJobNotFound   = errors.New("archived job not found")
)

const (
	filePrefix  = "printsink_archive_"
	fileSuffix  = ".db"
	monthLayout = "2006-01"
)

// Store persists captured jobs into one SQLite file per calendar
// month. Raw job bytes are zstd compressed before insert.
type Store struct {
	dir string

	mu  sync.Mutex
	dbs map[string]*sql.DB

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// MonthInfo describes one archive file on disk.
type MonthInfo struct {
	Month     string `json:"month"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	JobCount  int    `json:"job_count"`
}

// ArchivedJob is the metadata row for one archived capture. Raw bytes
// are fetched separately through JobRaw.
type ArchivedJob struct {
	ID         int64     `json:"id"`
	Seq        uint64    `json:"seq"`
	Label      string    `json:"label"`
	Source     string    `json:"source"`
	PeerAddr   string    `json:"peer_addr,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	Size       int64     `json:"size"`
	Status     string    `json:"status"`
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Store{
		dir: dir,
		dbs: make(map[string]*sql.DB),
		enc: enc,
		dec: dec,
	}, nil
}

// ValidMonth reports whether m is a well-formed archive month key like
// "2026-08".
func ValidMonth(m string) bool {
	_, err := time.Parse(monthLayout, m)
	return err == nil
}

// monthFilename maps a "2006-01" month token to its on-disk name,
// which uses an underscore so the file stays shell friendly.
func monthFilename(month string) string {
	return filePrefix + strings.ReplaceAll(month, "-", "_") + fileSuffix
}

func (s *Store) monthPath(month string) string {
	return filepath.Join(s.dir, monthFilename(month))
}

// SaveJob writes one job into the archive file for the month it was
// received in, creating the file on first use.
func (s *Store) SaveJob(job *capture.Job) error {
	month := job.ReceivedAt.Format(monthLayout)

	db, err := s.openMonth(month, true)
	if err != nil {
		return err
	}

	compressed := s.enc.EncodeAll(job.Raw, make([]byte, 0, len(job.Raw)))

	_, err = db.Exec(`
		INSERT INTO jobs (seq, label, source, peer_addr, received_at, size, status, raw_zstd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, job.Seq, job.Label, string(job.Source), job.PeerAddr, job.ReceivedAt,
		job.Size(), string(job.Doc.Status), compressed)
	if err != nil {
		return fmt.Errorf("failed to insert archived job: %w", err)
	}

	return nil
}

// Months lists the archive files on disk, newest month first.
func (s *Store) Months() ([]MonthInfo, error) {
	entries, err := filepath.Glob(filepath.Join(s.dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, err
	}

	months := make([]MonthInfo, 0, len(entries))
	for _, path := range entries {
		name := filepath.Base(path)
		token := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		month := strings.ReplaceAll(token, "_", "-")
		if !ValidMonth(month) {
			continue
		}

		info := MonthInfo{Month: month, Filename: name}
		if st, err := os.Stat(path); err == nil {
			info.SizeBytes = st.Size()
		}

		db, err := s.openMonth(month, false)
		if err != nil {
			continue
		}
		if err := db.QueryRow("SELECT COUNT(*) FROM jobs").Scan(&info.JobCount); err != nil {
			continue
		}

		months = append(months, info)
	}

	// Lexicographic order matches chronological order for this layout.
	sort.Slice(months, func(i, j int) bool { return months[i].Month > months[j].Month })

	return months, nil
}

// ListJobs returns the metadata rows of one archive month, newest
// first.
func (s *Store) ListJobs(month string) ([]ArchivedJob, error) {
	if !ValidMonth(month) {
		return nil, ErrMonthNotFound
	}

	db, err := s.openMonth(month, false)
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT id, seq, label, source, peer_addr, received_at, size, status
		FROM jobs
		ORDER BY id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived jobs: %w", err)
	}
	defer rows.Close()

	var jobs []ArchivedJob
	for rows.Next() {
		var j ArchivedJob
		if err := rows.Scan(&j.ID, &j.Seq, &j.Label, &j.Source, &j.PeerAddr,
			&j.ReceivedAt, &j.Size, &j.Status); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// JobRaw returns the decompressed raw bytes of one archived job.
func (s *Store) JobRaw(month string, id int64) ([]byte, error) {
	if !ValidMonth(month) {
		return nil, ErrMonthNotFound
	}

	db, err := s.openMonth(month, false)
	if err != nil {
		return nil, err
	}

	var compressed []byte
	err = db.QueryRow("SELECT raw_zstd FROM jobs WHERE id = ?", id).Scan(&compressed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	raw, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress archived job: %w", err)
	}
	return raw, nil
}

// Prune deletes archive files older than retentionMonths whole months
// and reports which months were removed. Zero retention disables
// pruning.
func (s *Store) Prune(retentionMonths int) ([]string, error) {
	if retentionMonths <= 0 {
		return nil, nil
	}

	months, err := s.Months()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	cutoff := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).
		AddDate(0, -retentionMonths, 0)

	var removed []string
	for _, m := range months {
		start, err := time.Parse(monthLayout, m.Month)
		if err != nil {
			continue
		}
		if !start.Before(cutoff) {
			continue
		}

		s.mu.Lock()
		if db, ok := s.dbs[m.Month]; ok {
			db.Close()
			delete(s.dbs, m.Month)
		}
		s.mu.Unlock()

		if err := os.Remove(s.monthPath(m.Month)); err != nil {
			return removed, fmt.Errorf("failed to remove archive %s: %w", m.Filename, err)
		}
		removed = append(removed, m.Month)
	}

	return removed, nil
}

func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for month, db := range s.dbs {
		db.Close()
		delete(s.dbs, month)
	}
}

func (s *Store) openMonth(month string, create bool) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.dbs[month]; ok {
		return db, nil
	}

	path := s.monthPath(month)
	if !create {
		if _, err := os.Stat(path); err != nil {
			return nil, ErrMonthNotFound
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			seq INTEGER NOT NULL,
			label TEXT NOT NULL,
			source TEXT NOT NULL,
			peer_addr TEXT,
			received_at DATETIME NOT NULL,
			size INTEGER NOT NULL,
			status TEXT NOT NULL,
			raw_zstd BLOB NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_jobs_received_at ON jobs(received_at);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate archive database: %w", err)
	}

	s.dbs[month] = db
	return db, nil
}
