// Package entry holds the cache's data record and its O(1) frequency
// bookkeeping.
//
// An Entry tracks a value, its optional expiration instant, and the
// access-frequency counter the cache engine uses to pick an LFU
// eviction victim. The frequency index groups keys into
// insertion-ordered buckets keyed by frequency, so the longest-resident
// member of the least-frequent bucket can be found in O(1): this is
// the hash-of-doubly-linked-lists representation, each bucket backed
// by container/list with a side key->element map for O(1) removal.
package entry

import (
	"container/list"
	"time"
)

// Entry is a single cache record.
type Entry struct {
	Value          any
	ExpiresAt      *time.Time
	Frequency      int
	LastAccessedAt time.Time
}

// IsExpired reports whether the entry's TTL has elapsed as of now.
func (e *Entry) IsExpired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// bucketItem is the payload stored in a frequency bucket's list.Element.
type bucketItem struct {
	key string
}

// FrequencyIndex maps a frequency count to the insertion-ordered set of
// keys currently at that frequency. It is not safe for concurrent use;
// callers serialize access externally (the cache engine's mutex).
type FrequencyIndex struct {
	buckets map[int]*list.List
	nodes   map[string]*list.Element
	freqs   map[string]int
	min     int
}

// NewFrequencyIndex returns an empty index.
func NewFrequencyIndex() *FrequencyIndex {
	return &FrequencyIndex{
		buckets: make(map[int]*list.List),
		nodes:   make(map[string]*list.Element),
		freqs:   make(map[string]int),
	}
}

// Insert places key into the frequency-1 bucket. Used on Create, and on
// re-insertion after eviction/expiration.
func (f *FrequencyIndex) Insert(key string) {
	f.addToBucket(key, 1)
	f.min = 1
}

// Bump moves key from its current bucket to the next one up, appended
// at the end (it becomes the newest member of that bucket, so the
// front stays the longest-resident, preserving eviction order).
// Returns the new frequency.
func (f *FrequencyIndex) Bump(key string) int {
	cur := f.freqs[key]
	f.removeFromBucket(key, cur)
	next := cur + 1
	f.addToBucket(key, next)

	if cur == f.min {
		if f.bucketLen(cur) == 0 {
			f.min = next
		}
	}
	return next
}

// Remove deletes key from the index entirely (Delete, eviction,
// expiration). Recomputes min if the key's bucket was the minimum and
// is now empty.
func (f *FrequencyIndex) Remove(key string) {
	cur, ok := f.freqs[key]
	if !ok {
		return
	}
	f.removeFromBucket(key, cur)
	delete(f.freqs, key)

	if cur == f.min && f.bucketLen(cur) == 0 {
		f.min = f.recomputeMin()
	}
}

// Frequency returns the current frequency recorded for key, or 0 if
// key is not present in the index.
func (f *FrequencyIndex) Frequency(key string) int {
	return f.freqs[key]
}

// Min returns the smallest frequency with at least one member, or 0 if
// the index is empty.
func (f *FrequencyIndex) Min() int {
	if len(f.freqs) == 0 {
		return 0
	}
	return f.min
}

// VictimKey returns the key that should be evicted next: the
// longest-resident member of the minimum-frequency bucket. Returns ""
// if the index is empty.
func (f *FrequencyIndex) VictimKey() string {
	if len(f.freqs) == 0 {
		return ""
	}
	bucket, ok := f.buckets[f.min]
	if !ok || bucket.Len() == 0 {
		// Stale min pointer: self-heal by recomputing.
		f.min = f.recomputeMin()
		bucket, ok = f.buckets[f.min]
		if !ok || bucket.Len() == 0 {
			return ""
		}
	}
	front := bucket.Front()
	return front.Value.(*bucketItem).key
}

// Len returns the number of keys tracked by the index.
func (f *FrequencyIndex) Len() int {
	return len(f.freqs)
}

func (f *FrequencyIndex) addToBucket(key string, freq int) {
	bucket, ok := f.buckets[freq]
	if !ok {
		bucket = list.New()
		f.buckets[freq] = bucket
	}
	elem := bucket.PushBack(&bucketItem{key: key})
	f.nodes[key] = elem
	f.freqs[key] = freq
}

func (f *FrequencyIndex) removeFromBucket(key string, freq int) {
	bucket, ok := f.buckets[freq]
	if !ok {
		return
	}
	if elem, ok := f.nodes[key]; ok {
		bucket.Remove(elem)
		delete(f.nodes, key)
	}
	if bucket.Len() == 0 {
		delete(f.buckets, freq)
	}
}

func (f *FrequencyIndex) bucketLen(freq int) int {
	bucket, ok := f.buckets[freq]
	if !ok {
		return 0
	}
	return bucket.Len()
}

// recomputeMin scans the known frequencies for the current minimum.
// Only invoked when the cached min pointer is known to be stale (its
// bucket emptied), so this is not on the hot path of Insert/Bump.
func (f *FrequencyIndex) recomputeMin() int {
	min := 0
	for freq, bucket := range f.buckets {
		if bucket.Len() == 0 {
			continue
		}
		if min == 0 || freq < min {
			min = freq
		}
	}
	return min
}
