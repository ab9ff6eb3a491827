package localrepo

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/distr1/cachecore/internal/model"
)

// The marker records its own creation instant as its content (a Unix
// timestamp), since Go's standard library has no portable way to read a
// file's birth time back from the filesystem. Its mtime is left to the
// filesystem and gives the "last touch" clock the backoff table needs.
func (r *Repository) lookupMarkerPath(module model.Coordinate, checksum, serverID string) string {
	return filepath.Join(r.remoteDir(module, checksum, serverID), lookupInfoFile)
}

// ShouldCallRemote implements the negative-lookup throttle: a geometric
// backoff on repeated remote misses. It is racy by design — two
// concurrent lookups may both touch the marker, which only guards call
// frequency, not correctness.
func (r *Repository) ShouldCallRemote(module model.Coordinate, checksum, serverID string, now time.Time) bool {
	path := r.lookupMarkerPath(module, checksum, serverID)
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	created, ok := readCreationStamp(path)
	if !ok {
		return true
	}

	ac := now.Sub(created)
	am := now.Sub(info.ModTime())

	switch {
	case ac < time.Hour:
		return am >= time.Minute
	case ac < 24*time.Hour:
		return am >= time.Hour
	case ac < 7*24*time.Hour:
		return am >= 24*time.Hour
	default:
		return true
	}
}

// RecordNegativeLookup touches the throttle marker after a remote lookup
// came back empty. Creation is preserved if the marker already exists;
// only its mtime is updated ("on a yes that again fails, mtime is
// re-touched, creation preserved").
func (r *Repository) RecordNegativeLookup(module model.Coordinate, checksum, serverID string) error {
	path := r.lookupMarkerPath(module, checksum, serverID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.WriteFile(path, []byte(strconv.FormatInt(time.Now().Unix(), 10)), 0644)
	}
	now := time.Now()
	return os.Chtimes(path, now, now)
}

func readCreationStamp(path string) (time.Time, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}
