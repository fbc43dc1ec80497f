package cache

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/kvmesh/kvmesh/internal/events"
)

// recordingSink collects every emitted event in order, standing in for
// the subscription registry in tests that check emission order and
// content rather than delivery.
type recordingSink struct {
	events []events.CacheEvent
}

func (s *recordingSink) Emit(evt events.CacheEvent) {
	s.events = append(s.events, evt)
}

type CacheTestSuite struct {
	suite.Suite
	sink *recordingSink
	c    *Cache
}

func (suite *CacheTestSuite) SetupTest() {
	suite.sink = &recordingSink{}
	suite.c = New(2, suite.sink, nil)
}

func (suite *CacheTestSuite) TestCreateReadUpdateDelete() {
	assert.True(suite.T(), suite.c.Create("a", 1, nil))

	v, ok := suite.c.Read("a")
	assert.True(suite.T(), ok)
	assert.Equal(suite.T(), 1, v)

	assert.True(suite.T(), suite.c.Update("a", 2, nil))
	v, ok = suite.c.Read("a")
	assert.True(suite.T(), ok)
	assert.Equal(suite.T(), 2, v)

	assert.True(suite.T(), suite.c.Delete("a"))
	_, ok = suite.c.Read("a")
	assert.False(suite.T(), ok)
}

func (suite *CacheTestSuite) TestBlankKeyIsRejectedWithoutMutation() {
	assert.False(suite.T(), suite.c.Create("", 1, nil))
	assert.False(suite.T(), suite.c.Create("   ", 1, nil))
	assert.Equal(suite.T(), 0, suite.c.Len())
}

func (suite *CacheTestSuite) TestDuplicateCreateFails() {
	assert.True(suite.T(), suite.c.Create("k", 1, nil))
	assert.False(suite.T(), suite.c.Create("k", 2, nil))

	v, _ := suite.c.Read("k")
	assert.Equal(suite.T(), 1, v)
}

func (suite *CacheTestSuite) TestDoubleDeleteReturnsTrueThenFalse() {
	suite.c.Create("k", 1, nil)
	assert.True(suite.T(), suite.c.Delete("k"))
	assert.False(suite.T(), suite.c.Delete("k"))
}

// TestLFUEviction mirrors scenario S2: capacity 2, "a" read to bump its
// frequency above "b", so "b" (still at frequency 1, the only member
// of the lowest bucket) is evicted on the third Create.
func (suite *CacheTestSuite) TestLFUEviction() {
	suite.c.Create("a", 1, nil)
	suite.c.Create("b", 2, nil)
	suite.c.Read("a")
	suite.c.Create("c", 3, nil)

	assert.True(suite.T(), suite.c.Len() <= 2)
	_, ok := suite.c.Read("b")
	assert.False(suite.T(), ok)
	_, ok = suite.c.Read("a")
	assert.True(suite.T(), ok)
	_, ok = suite.c.Read("c")
	assert.True(suite.T(), ok)

	var sawEvicted, sawAddedC bool
	var evictedBeforeAddedC bool
	for i, evt := range suite.sink.events {
		if evt.EventType == events.ItemEvicted && evt.Key == "b" {
			sawEvicted = true
		}
		if evt.EventType == events.ItemAdded && evt.Key == "c" {
			sawAddedC = true
			evictedBeforeAddedC = sawEvicted
			_ = i
		}
	}
	assert.True(suite.T(), sawEvicted, "expected ItemEvicted for key b")
	assert.True(suite.T(), sawAddedC, "expected ItemAdded for key c")
	assert.True(suite.T(), evictedBeforeAddedC, "ItemEvicted must precede ItemAdded")
}

// TestCreateAtCapacityAlwaysEvictsOneVictim covers the boundary case:
// creating when |primary| = capacity always succeeds and always
// evicts exactly one entry first.
func (suite *CacheTestSuite) TestCreateAtCapacityAlwaysEvictsOneVictim() {
	suite.c.Create("a", 1, nil)
	suite.c.Create("b", 2, nil)
	assert.Equal(suite.T(), 2, suite.c.Len())

	assert.True(suite.T(), suite.c.Create("c", 3, nil))
	assert.Equal(suite.T(), 2, suite.c.Len())
}

// TestReadExpiredEntryRemovesAndEmits mirrors scenario S3.
func (suite *CacheTestSuite) TestReadExpiredEntryRemovesAndEmits() {
	ttl := time.Millisecond
	suite.c.Create("k", "v", &ttl)
	time.Sleep(5 * time.Millisecond)

	v, ok := suite.c.Read("k")
	assert.False(suite.T(), ok)
	assert.Nil(suite.T(), v)

	var sawExpired bool
	for _, evt := range suite.sink.events {
		if evt.EventType == events.ItemExpired && evt.Key == "k" {
			sawExpired = true
		}
	}
	assert.True(suite.T(), sawExpired)
}

func (suite *CacheTestSuite) TestUpdatePreservesExpirationWhenOmitted() {
	ttl := time.Hour
	suite.c.Create("k", 1, &ttl)
	assert.True(suite.T(), suite.c.Update("k", 2, nil))

	suite.c.mu.RLock()
	e := suite.c.data["k"]
	suite.c.mu.RUnlock()
	assert.NotNil(suite.T(), e.ExpiresAt)
}

func (suite *CacheTestSuite) TestUpdateDoesNotBumpFrequency() {
	suite.c.Create("k", 1, nil)
	suite.c.Update("k", 2, nil)

	suite.c.mu.RLock()
	freq := suite.c.freq.Frequency("k")
	suite.c.mu.RUnlock()
	assert.Equal(suite.T(), 1, freq)
}

func (suite *CacheTestSuite) TestPeriodicSweepExpiresEntries() {
	ttl := time.Millisecond
	suite.c.Create("k", "v", &ttl)
	suite.c.StartSweep(2 * time.Millisecond)
	defer suite.c.StopSweep()

	assert.Eventually(suite.T(), func() bool {
		return suite.c.Len() == 0
	}, 200*time.Millisecond, 2*time.Millisecond)
}

// TestConcurrentWritersConverge mirrors scenario S6: two clients issue
// 10 000 random CRUD operations each against a capacity-1000 cache, and
// afterward the invariants of §8(1-3) must still hold — bounded size,
// primary/frequency-index agreement on every live key, and a minimum
// frequency consistent with the index's actual domain.
func TestConcurrentWritersConverge(t *testing.T) {
	const (
		capacity  = 1000
		opsPerRun = 10000
		keySpace  = 50
	)
	c := New(capacity, nil, nil)

	run := func(seed int64) {
		r := rand.New(rand.NewSource(seed))
		for i := 0; i < opsPerRun; i++ {
			key := fmt.Sprintf("k%d", r.Intn(keySpace))
			switch r.Intn(4) {
			case 0:
				c.Create(key, i, nil)
			case 1:
				c.Read(key)
			case 2:
				c.Update(key, i, nil)
			case 3:
				c.Delete(key)
			}
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); run(1) }()
	go func() { defer wg.Done(); run(2) }()
	wg.Wait()

	c.mu.RLock()
	defer c.mu.RUnlock()

	assert.LessOrEqual(t, len(c.data), capacity)

	for key, e := range c.data {
		freq := c.freq.Frequency(key)
		assert.NotZero(t, freq, "key %q present in primary but absent from frequency index", key)
		assert.Equal(t, freq, e.Frequency, "key %q: primary frequency disagrees with index", key)
	}
	assert.Equal(t, len(c.data), c.freq.Len(), "primary and frequency index must track the same key set")

	if c.freq.Len() == 0 {
		assert.Equal(t, 0, c.freq.Min())
	} else {
		min := 0
		for _, e := range c.data {
			if min == 0 || e.Frequency < min {
				min = e.Frequency
			}
		}
		assert.Equal(t, min, c.freq.Min())
	}
}

func TestCacheTestSuite(t *testing.T) {
	suite.Run(t, new(CacheTestSuite))
}
