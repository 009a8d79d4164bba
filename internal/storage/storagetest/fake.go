// Package storagetest provides an in-memory storage.Client for tests.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"bucketreplicator/internal/storage"
)

// Fake is an in-memory multi-bucket object store that counts calls per key.
type Fake struct {
	// PageSize caps the number of keys returned per ListPage call (default 2).
	PageSize int
	// HeadErr, GetErr and PutErr inject failures; returning nil lets the call proceed.
	HeadErr func(bucket, key string) error
	GetErr  func(bucket, key string) error
	PutErr  func(bucket, key string) error

	mu      sync.Mutex
	buckets map[string]map[string][]byte
	heads   map[string]int
	gets    map[string]int
	puts    map[string]int
	lists   int
}

// New creates an empty Fake.
func New() *Fake {
	return &Fake{
		PageSize: 2,
		buckets:  make(map[string]map[string][]byte),
		heads:    make(map[string]int),
		gets:     make(map[string]int),
		puts:     make(map[string]int),
	}
}

// Seed stores keys in bucket with the key itself as content.
func (f *Fake) Seed(bucket string, keys ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		f.bucketLocked(bucket)[key] = []byte("data:" + key)
	}
}

// Keys returns the sorted keys present in bucket.
func (f *Fake) Keys(bucket string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.buckets[bucket]))
	for key := range f.buckets[bucket] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Content returns the stored bytes of bucket/key.
func (f *Fake) Content(bucket, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.buckets[bucket][key]
	return data, ok
}

// Heads returns the number of HeadObject calls made for bucket/key.
func (f *Fake) Heads(bucket, key string) int { return f.count(f.heads, bucket, key) }

// Gets returns the number of GetObject calls made for bucket/key.
func (f *Fake) Gets(bucket, key string) int { return f.count(f.gets, bucket, key) }

// Puts returns the number of PutObject calls made for bucket/key.
func (f *Fake) Puts(bucket, key string) int { return f.count(f.puts, bucket, key) }

// TotalPuts returns the number of PutObject calls made against bucket.
func (f *Fake) TotalPuts(bucket string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for id, n := range f.puts {
		if strings.HasPrefix(id, bucket+"/") {
			total += n
		}
	}
	return total
}

// ListCalls returns the number of ListPage calls made.
func (f *Fake) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

func (f *Fake) count(m map[string]int, bucket, key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return m[bucket+"/"+key]
}

func (f *Fake) bucketLocked(bucket string) map[string][]byte {
	b, ok := f.buckets[bucket]
	if !ok {
		b = make(map[string][]byte)
		f.buckets[bucket] = b
	}
	return b
}

// ListPage returns keys in lexical order; the continuation token is the offset.
func (f *Fake) ListPage(ctx context.Context, bucket, prefix, token string) (storage.Page, error) {
	if err := ctx.Err(); err != nil {
		return storage.Page{}, err
	}

	f.mu.Lock()
	f.lists++
	var matched []string
	for key := range f.buckets[bucket] {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, key)
		}
	}
	f.mu.Unlock()
	sort.Strings(matched)

	offset := 0
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil {
			return storage.Page{}, fmt.Errorf("bad continuation token %q", token)
		}
		offset = n
	}
	if offset > len(matched) {
		offset = len(matched)
	}

	size := f.PageSize
	if size <= 0 {
		size = len(matched) + 1
	}
	end := offset + size
	if end > len(matched) {
		end = len(matched)
	}

	page := storage.Page{Keys: matched[offset:end]}
	if end < len(matched) {
		page.Truncated = true
		page.NextToken = strconv.Itoa(end)
	}
	return page, nil
}

// HeadObject reports storage.ErrNotFound for absent keys.
func (f *Fake) HeadObject(ctx context.Context, bucket, key string) (storage.ObjectInfo, error) {
	f.mu.Lock()
	f.heads[bucket+"/"+key]++
	data, ok := f.buckets[bucket][key]
	f.mu.Unlock()

	if f.HeadErr != nil {
		if err := f.HeadErr(bucket, key); err != nil {
			return storage.ObjectInfo{}, err
		}
	}
	if !ok {
		return storage.ObjectInfo{}, fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

// GetObject returns a copy of the stored bytes.
func (f *Fake) GetObject(ctx context.Context, bucket, key string) (storage.Object, error) {
	f.mu.Lock()
	f.gets[bucket+"/"+key]++
	data, ok := f.buckets[bucket][key]
	f.mu.Unlock()

	if f.GetErr != nil {
		if err := f.GetErr(bucket, key); err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("get %s/%s: no such key", bucket, key)
	}
	return &object{
		Reader: bytes.NewReader(append([]byte(nil), data...)),
		info:   storage.ObjectInfo{Key: key, Size: int64(len(data)), ContentType: "application/octet-stream"},
	}, nil
}

// PutObject stores the full body of reader.
func (f *Fake) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts storage.PutOptions) error {
	f.mu.Lock()
	f.puts[bucket+"/"+key]++
	f.mu.Unlock()

	if f.PutErr != nil {
		if err := f.PutErr(bucket, key); err != nil {
			return err
		}
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("put %s/%s: short body %d != %d", bucket, key, len(data), size)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.bucketLocked(bucket)[key] = data
	return nil
}

type object struct {
	*bytes.Reader
	info storage.ObjectInfo
}

func (o *object) Close() error { return nil }

func (o *object) Stat() (storage.ObjectInfo, error) { return o.info, nil }

var _ storage.Client = (*Fake)(nil)
