// Package localstore keeps state that must survive restarts without a
// network: the offline request queue and the last good exchange-rate table.
// Everything lives in a single BoltDB file.
package localstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/RaikyD/cardpay-service/internal/currency"
	"github.com/RaikyD/cardpay-service/internal/offline"
)

var (
	queueBucket = []byte("offline_queue")
	ratesBucket = []byte("fx_rates")
	ratesKey    = []byte("current")
)

var ErrItemNotFound = errors.New("queue item not found")

type Store struct {
	db *bolt.DB
}

// New opens (or creates) the database at path and makes sure every bucket exists.
func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{queueBucket, ratesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveRates(t currency.Table) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(ratesBucket).Put(ratesKey, data)
	})
}

// LoadRates returns (nil, nil) when nothing has been saved yet.
func (s *Store) LoadRates() (*currency.Table, error) {
	var t *currency.Table
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(ratesBucket).Get(ratesKey)
		if v == nil {
			return nil
		}
		t = &currency.Table{}
		return json.Unmarshal(v, t)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Queue exposes the FIFO queue bucket.
func (s *Store) Queue() *Queue {
	return &Queue{db: s.db}
}

// Queue stores offline.Items keyed by a monotonically increasing sequence,
// so cursor order is enqueue order.
type Queue struct {
	db *bolt.DB
}

func (q *Queue) Append(item offline.Item) (offline.Item, error) {
	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(queueBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		item.Seq = seq
		data, err := json.Marshal(item)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
	if err != nil {
		return offline.Item{}, err
	}
	return item, nil
}

func (q *Queue) List() ([]offline.Item, error) {
	items := []offline.Item{}
	err := q.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(queueBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var it offline.Item
			if err := json.Unmarshal(v, &it); err != nil {
				return fmt.Errorf("decode queue item %d: %w", binary.BigEndian.Uint64(k), err)
			}
			items = append(items, it)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Put overwrites an existing item. Missing items are an error so a
// concurrent delete is never resurrected.
func (q *Queue) Put(item offline.Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(queueBucket)
		if b.Get(seqKey(item.Seq)) == nil {
			return ErrItemNotFound
		}
		return b.Put(seqKey(item.Seq), data)
	})
}

// Delete is a no-op for missing items.
func (q *Queue) Delete(seq uint64) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(queueBucket).Delete(seqKey(seq))
	})
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
