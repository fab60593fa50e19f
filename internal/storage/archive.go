// Package storage holds the snapshot archive contract shared by the local,
// GCS and in-memory backends. The relational store lives in storage/postgres.
package storage

import (
	"context"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
)

// Archive keeps screenshots after their local copy is deleted.
type Archive interface {
	// Put stores r under key and returns a URI for the stored object.
	Put(ctx context.Context, key, contentType string, r io.Reader) (string, error)
}

// SnapshotKey returns "snapshots/YYYY/MM/DD/<uuid>-<fileName>" for a capture
// taken at the given time.
func SnapshotKey(at time.Time, fileName string) string {
	at = at.UTC()
	return path.Join("snapshots", at.Format("2006"), at.Format("01"), at.Format("02"),
		uuid.NewString()+"-"+path.Base(fileName))
}
