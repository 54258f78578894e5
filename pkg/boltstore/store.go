package boltstore

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	bbolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/crystal-mush/musedb/pkg/gamedb"
	"github.com/crystal-mush/musedb/pkg/obslog"
)

// batchSize is the number of records written per transaction during a
// snapshot.
const batchSize = 1000

var (
	ErrNoSnapshot = errors.New("boltstore: no snapshot stored")
	ErrVersion    = errors.New("boltstore: unsupported record version")
)

// Store persists gamedb records in a bbolt file. A full snapshot is taken
// with SaveDB; between snapshots single objects are written through with
// PutObject and DeleteObject.
type Store struct {
	bolt *bbolt.DB
	log  *zap.Logger
}

// Open opens or creates a bbolt database file and ensures all buckets exist.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketObjects, bucketPlayers} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: create buckets: %w", err)
	}

	return &Store{bolt: db, log: obslog.OrNop(logger)}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	if s.bolt != nil {
		return s.bolt.Close()
	}
	return nil
}

// Path returns the filesystem path of the underlying bbolt database.
func (s *Store) Path() string {
	if s.bolt != nil {
		return s.bolt.Path()
	}
	return ""
}

// SaveDB replaces the stored snapshot with every live object of db. The
// object bucket is rebuilt in batches so large tables do not hold one huge
// transaction.
func (s *Store) SaveDB(db *gamedb.DB) error {
	recs := db.ExportAll()

	err := s.bolt.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketObjects, bucketPlayers} {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("boltstore: reset buckets: %w", err)
	}

	for i := 0; i < len(recs); i += batchSize {
		end := min(i+batchSize, len(recs))
		if err := s.writeBatch(recs[i:end]); err != nil {
			return err
		}
	}

	m := meta{Version: recordVersion, Top: db.Top(), SavedAt: db.Now().Unix(), Objects: len(recs)}
	if err := s.putMeta(m); err != nil {
		return err
	}
	obslog.Important(s.log, "boltstore: snapshot saved",
		zap.Int("objects", len(recs)), zap.Int("top", m.Top))
	return nil
}

// writeBatch writes a batch of records in a single transaction.
func (s *Store) writeBatch(recs []*gamedb.Record) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		objs, players := tx.Bucket(bucketObjects), tx.Bucket(bucketPlayers)
		for _, r := range recs {
			if err := putRecord(objs, players, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func putRecord(objs, players *bbolt.Bucket, r *gamedb.Record) error {
	data, err := encodeRecord(r)
	if err != nil {
		return fmt.Errorf("boltstore: encode #%d: %w", r.Ref, err)
	}
	if err := objs.Put(objectKey(r.Ref), data); err != nil {
		return err
	}
	if gamedb.ObjectType(r.Flags&gamedb.TypeMask) == gamedb.TypePlayer && r.Flags&gamedb.FlagGoing == 0 {
		return players.Put([]byte(strings.ToLower(r.Name)), objectKey(r.Ref))
	}
	return nil
}

func (s *Store) putMeta(m meta) error {
	data, err := encodeMeta(m)
	if err != nil {
		return fmt.Errorf("boltstore: encode meta: %w", err)
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyMeta, data)
	})
}

// PutObject writes the current state of ref through to the store. A slot
// that is no longer live is deleted instead.
func (s *Store) PutObject(db *gamedb.DB, ref gamedb.DBRef) error {
	return s.PutObjects(db, ref)
}

// PutObjects writes several objects in one transaction and raises the
// snapshot's top if the table has grown.
func (s *Store) PutObjects(db *gamedb.DB, refs ...gamedb.DBRef) error {
	err := s.bolt.Update(func(tx *bbolt.Tx) error {
		objs, players := tx.Bucket(bucketObjects), tx.Bucket(bucketPlayers)
		for _, ref := range refs {
			old := objs.Get(objectKey(ref))
			if old != nil {
				if prev, err := decodeRecord(old); err == nil {
					players.Delete([]byte(strings.ToLower(prev.Name)))
				}
			}
			r, ok := db.Export(ref)
			if !ok || db.IsDestroyed(ref) {
				if err := objs.Delete(objectKey(ref)); err != nil {
					return err
				}
				continue
			}
			if err := putRecord(objs, players, r); err != nil {
				return err
			}
		}

		m, err := readMeta(tx)
		if errors.Is(err, ErrNoSnapshot) {
			return nil
		}
		if err != nil {
			return err
		}
		if m.Top >= db.Top() {
			return nil
		}
		m.Top = db.Top()
		data, err := encodeMeta(m)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyMeta, data)
	})
	if err != nil {
		return fmt.Errorf("boltstore: put objects: %w", err)
	}
	return nil
}

// DeleteObject removes an object from bbolt.
func (s *Store) DeleteObject(ref gamedb.DBRef) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		objs := tx.Bucket(bucketObjects)
		if old := objs.Get(objectKey(ref)); old != nil {
			if prev, err := decodeRecord(old); err == nil {
				tx.Bucket(bucketPlayers).Delete([]byte(strings.ToLower(prev.Name)))
			}
		}
		return objs.Delete(objectKey(ref))
	})
}

func readMeta(tx *bbolt.Tx) (meta, error) {
	v := tx.Bucket(bucketMeta).Get(keyMeta)
	if v == nil {
		return meta{}, ErrNoSnapshot
	}
	m, err := decodeMeta(v)
	if err != nil {
		return meta{}, fmt.Errorf("boltstore: decode meta: %w", err)
	}
	return m, nil
}

// Records reads the stored table size and every stored record in index
// order.
func (s *Store) Records() (int, []*gamedb.Record, error) {
	var (
		top  int
		recs []*gamedb.Record
	)
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		m, err := readMeta(tx)
		if err != nil {
			return err
		}
		if m.Version != recordVersion {
			return fmt.Errorf("%w: %d", ErrVersion, m.Version)
		}
		top = m.Top
		return tx.Bucket(bucketObjects).ForEach(func(k, v []byte) error {
			r, err := decodeRecord(v)
			if err != nil {
				return fmt.Errorf("boltstore: decode object: %w", err)
			}
			if key := refFromKey(k); key != r.Ref {
				return fmt.Errorf("boltstore: object #%d stored under key #%d", r.Ref, key)
			}
			recs = append(recs, r)
			return nil
		})
	})
	if err != nil {
		return 0, nil, err
	}
	return top, recs, nil
}

// LoadInto materializes the stored snapshot into db, which must be empty.
// The free list is rebuilt and definition reference counts recomputed; a
// consistency pass is left to the caller.
func (s *Store) LoadInto(db *gamedb.DB) error {
	top, recs, err := s.Records()
	if err != nil {
		return err
	}
	if err := db.Restore(top, recs); err != nil {
		return fmt.Errorf("boltstore: restore: %w", err)
	}
	db.RebuildFreeList()
	db.RecountRefs()
	obslog.Important(s.log, "boltstore: snapshot loaded",
		zap.Int("objects", len(recs)), zap.Int("top", db.Top()))
	return nil
}

// PlayerRef looks up a live player by name, ignoring case.
func (s *Store) PlayerRef(name string) (gamedb.DBRef, bool) {
	ref, found := gamedb.Nothing, false
	s.bolt.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketPlayers).Get([]byte(strings.ToLower(name))); v != nil {
			ref, found = refFromKey(v), true
		}
		return nil
	})
	return ref, found
}

// Backup creates a hot snapshot of the bbolt database using tx.WriteTo().
func (s *Store) Backup(path string) error {
	return s.bolt.View(func(tx *bbolt.Tx) error {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("boltstore: create backup %s: %w", path, err)
		}
		defer f.Close()
		_, err = tx.WriteTo(f)
		if err != nil {
			return fmt.Errorf("boltstore: write backup: %w", err)
		}
		obslog.Diagnostic(s.log, "boltstore: backup written", zap.String("path", path))
		return nil
	})
}

// HasData returns true if the bbolt database holds a snapshot.
func (s *Store) HasData() bool {
	hasData := false
	s.bolt.View(func(tx *bbolt.Tx) error {
		_, err := readMeta(tx)
		hasData = err == nil
		return nil
	})
	return hasData
}
