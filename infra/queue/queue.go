package queue

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrInUse is returned by Open when another handle holds the file.
var ErrInUse = errors.New("queue: file in use")

// Queue is an open queue file. It keeps the decoded records in memory; the
// file is the source of truth and every mutation is made durable before the
// in-memory view changes.
//
// A Queue is not safe for concurrent use.
type Queue struct {
	path    string
	file    *os.File
	offsets []int64
	records [][]byte
	size    int64
	dropped int64
}

// Open opens or creates the queue file at path, takes an exclusive advisory
// lock on it and recovers its records. A torn trailing frame is truncated
// away; Dropped reports how many bytes were removed.
func Open(path string) (*Queue, error) {
	_, statErr := os.Stat(path)
	created := errors.Is(statErr, fs.ErrNotExist)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open queue %s: %w", path, err)
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("lock queue %s: %w", path, err)
	}
	if created {
		if err := syncDir(filepath.Dir(path)); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	q := &Queue{path: path, file: f}
	if err := q.recover(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return q, nil
}

// ReadAll returns the complete records of the queue file at path without
// locking or repairing it.
func ReadAll(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	frames, _, err := scanFrames(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("read queue %s: %w", path, err)
	}
	out := make([][]byte, 0, len(frames))
	for _, fr := range frames {
		out = append(out, fr.payload)
	}
	return out, nil
}

func (q *Queue) recover() error {
	info, err := q.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}
	frames, validBytes, err := scanFrames(io.NewSectionReader(q.file, 0, info.Size()), info.Size())
	if err != nil {
		return fmt.Errorf("recover queue %s: %w", q.path, err)
	}
	for _, fr := range frames {
		q.offsets = append(q.offsets, fr.offset)
		q.records = append(q.records, fr.payload)
	}
	q.size = validBytes
	if validBytes < info.Size() {
		q.dropped = info.Size() - validBytes
		return q.truncate(validBytes)
	}
	return nil
}

func (q *Queue) truncate(size int64) error {
	if err := q.file.Truncate(size); err != nil {
		return fmt.Errorf("truncate queue %s: %w", q.path, err)
	}
	if err := q.file.Sync(); err != nil {
		return fmt.Errorf("sync queue %s: %w", q.path, err)
	}
	return nil
}

// Append writes payload as a new frame and syncs the file. On failure the
// file is cut back to its previous length and the queue is unchanged.
func (q *Queue) Append(payload []byte) error {
	buf := encodeFrame(payload)
	if _, err := q.file.WriteAt(buf, q.size); err != nil {
		_ = q.file.Truncate(q.size)
		return fmt.Errorf("append queue %s: %w", q.path, err)
	}
	if err := q.file.Sync(); err != nil {
		_ = q.file.Truncate(q.size)
		return fmt.Errorf("sync queue %s: %w", q.path, err)
	}
	q.offsets = append(q.offsets, q.size)
	q.records = append(q.records, append([]byte(nil), payload...))
	q.size += int64(len(buf))
	return nil
}

// Last returns the final record.
func (q *Queue) Last() ([]byte, bool) {
	if len(q.records) == 0 {
		return nil, false
	}
	return q.records[len(q.records)-1], true
}

// TruncateLast durably removes the final record.
func (q *Queue) TruncateLast() error {
	n := len(q.records)
	if n == 0 {
		return nil
	}
	off := q.offsets[n-1]
	if err := q.truncate(off); err != nil {
		return err
	}
	q.offsets = q.offsets[:n-1]
	q.records = q.records[:n-1]
	q.size = off
	return nil
}

// Clear durably removes every record.
func (q *Queue) Clear() error {
	if q.size == 0 && len(q.records) == 0 {
		return nil
	}
	if err := q.truncate(0); err != nil {
		return err
	}
	q.offsets = nil
	q.records = nil
	q.size = 0
	return nil
}

// Len returns the number of records.
func (q *Queue) Len() int { return len(q.records) }

// Records returns the records in file order. The slices must not be modified.
func (q *Queue) Records() [][]byte {
	out := make([][]byte, len(q.records))
	copy(out, q.records)
	return out
}

// Dropped returns the number of torn bytes removed when the queue was opened.
func (q *Queue) Dropped() int64 { return q.dropped }

func (q *Queue) Path() string { return q.path }

// Close releases the file and its lock.
func (q *Queue) Close() error {
	return q.file.Close()
}

// Remove closes the queue and deletes its file.
func (q *Queue) Remove() error {
	_ = q.file.Close()
	if err := os.Remove(q.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove queue %s: %w", q.path, err)
	}
	return syncDir(filepath.Dir(q.path))
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir %s: %w", dir, err)
	}
	return nil
}
