package pubmed

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const cacheBucket = "articles"

// Cache stores fetched articles by PMID. Abstracts do not change once
// published, so entries never expire.
type Cache struct{ db *bbolt.DB }

// OpenCache opens (or creates) <dir>/pubmed.db and ensures the bucket.
func OpenCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(filepath.Join(dir, "pubmed.db"), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists([]byte(cacheBucket))
		return e
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Get(pmid string) (Article, bool) {
	var data []byte
	_ = c.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(cacheBucket)).Get([]byte(pmid)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if data == nil {
		return Article{}, false
	}
	var a Article
	if err := json.Unmarshal(data, &a); err != nil {
		return Article{}, false
	}
	return a, true
}

func (c *Cache) Put(articles ...Article) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(cacheBucket))
		for _, a := range articles {
			data, err := json.Marshal(a)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(a.PMID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Cache) Len() int {
	n := 0
	_ = c.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(cacheBucket)).Stats().KeyN
		return nil
	})
	return n
}

func (c *Cache) Close() error { return c.db.Close() }
