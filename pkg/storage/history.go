// Package storage keeps a small bbolt database with the publications made from this project
package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	bolt "go.etcd.io/bbolt"
)

var publicationsBucket = []byte("publications")

// Publication is one successful deployment of an artifact to a repository
type Publication struct {
	ID          string    `json:"id"`
	Publication string    `json:"publication"`
	Coordinates string    `json:"coordinates"`
	Repository  string    `json:"repository"`
	Location    string    `json:"location"`
	SHA256      string    `json:"sha256"`
	Time        time.Time `json:"time"`
}

// History wraps the bbolt database
type History struct {
	db *bolt.DB
}

type txCtxKey struct{}

// Open opens (or creates) the database at path
func Open(path string) (*History, error) {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create directory for %s", path)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(publicationsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, eris.Wrap(err, "failed to initialise the database")
	}

	return &History{db: db}, nil
}

// Close closes the database
func (h *History) Close() error {
	return h.db.Close()
}

// CtxWithTx attaches a transaction to ctx so that nested calls reuse it
func CtxWithTx(ctx context.Context, tx *bolt.Tx) context.Context {
	return context.WithValue(ctx, txCtxKey{}, tx)
}

// TxFromCtx returns the transaction attached by CtxWithTx or nil
func TxFromCtx(ctx context.Context) *bolt.Tx {
	val := ctx.Value(txCtxKey{})
	if val == nil {
		return nil
	}
	return val.(*bolt.Tx)
}

// BatchUpdate runs callback inside a write transaction
func (h *History) BatchUpdate(ctx context.Context, callback func(context.Context) error) error {
	return h.db.Update(func(tx *bolt.Tx) error {
		return callback(CtxWithTx(ctx, tx))
	})
}

// Record stores rec. An empty ID is replaced with a new UUID and a zero time with the current time.
func (h *History) Record(ctx context.Context, rec *Publication) error {
	tx := TxFromCtx(ctx)
	if tx == nil {
		return h.BatchUpdate(ctx, func(ctx context.Context) error {
			return h.Record(ctx, rec)
		})
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}

	encoded, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "failed to encode publication record")
	}

	return tx.Bucket(publicationsBucket).Put([]byte(rec.ID), encoded)
}

// List returns all records, newest first
func (h *History) List(ctx context.Context) ([]*Publication, error) {
	result := []*Publication{}

	err := h.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(publicationsBucket).ForEach(func(k, v []byte) error {
			rec := new(Publication)
			err := json.Unmarshal(v, rec)
			if err != nil {
				return eris.Wrapf(err, "failed to decode publication record %s", k)
			}

			result = append(result, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Time.After(result[j].Time)
	})

	return result, nil
}
