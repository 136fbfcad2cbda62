package store

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"collabdoc/doc"
)

var docsBucket = []byte("documents")

// BoltStore persists documents in an embedded bbolt file, for single-node
// deployments that don't run Postgres. The version check runs inside the
// update transaction, so it carries the same compare-and-swap guarantee.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the database file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open bolt database")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(docsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create documents bucket")
	}
	return &BoltStore{db: db}, nil
}

// Close releases the database file.
func (b *BoltStore) Close() error { return b.db.Close() }

func (b *BoltStore) Create(_ context.Context, d *doc.Document) error {
	data, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "encode document")
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(docsBucket)
		if bkt.Get([]byte(d.ID)) != nil {
			return ErrExists
		}
		return bkt.Put([]byte(d.ID), data)
	})
}

func (b *BoltStore) Get(_ context.Context, id string) (*doc.Document, error) {
	var d *doc.Document
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(docsBucket).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		d = &doc.Document{}
		return json.Unmarshal(data, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (b *BoltStore) Put(_ context.Context, d *doc.Document, expectedVersion int64) error {
	data, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "encode document")
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(docsBucket)
		current := bkt.Get([]byte(d.ID))
		if current == nil {
			return ErrNotFound
		}
		var stored doc.Document
		if err := json.Unmarshal(current, &stored); err != nil {
			return errors.Wrap(err, "decode stored document")
		}
		if stored.State.Version != expectedVersion {
			return ErrVersionMismatch
		}
		return bkt.Put([]byte(d.ID), data)
	})
}
