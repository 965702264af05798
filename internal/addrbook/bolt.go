package addrbook

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketMappings = []byte("mappings")

// Store persists learned address mappings in a BoltDB file so a later
// session can start from what an earlier one learned.
type Store struct {
	db *bolt.DB
}

// OpenStore opens or creates the snapshot database.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMappings)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save writes every record the session learned. Keys are pan||short so
// the latest record for an address pair wins, matching Book lookups.
func (s *Store) Save(b *Book) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketMappings)
		if bkt == nil {
			return fmt.Errorf("bucket %q not found", bucketMappings)
		}
		for _, rec := range b.Export() {
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := bkt.Put(mappingKey(rec.Pan, rec.Short), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load seeds book with every stored mapping that was still current
// when it was saved.
func (s *Store) Load(b *Book) error {
	return s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketMappings)
		if bkt == nil {
			return fmt.Errorf("bucket %q not found", bucketMappings)
		}
		return bkt.ForEach(func(_, data []byte) error {
			var rec Record
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			if rec.EndFrame == 0 {
				b.Seed(rec.Pan, rec.Short, rec.Addr64)
			}
			return nil
		})
	})
}

func mappingKey(pan, short uint16) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint16(key, pan)
	binary.BigEndian.PutUint16(key[2:], short)
	return key
}
