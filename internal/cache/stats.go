package cache

// Stats is an in-process snapshot of cache effectiveness. It isn't
// part of the wire protocol (spec.md's Response object has no stats
// field); it exists for operators and tests, the way the teacher's
// cache/metrics.go and a classic TTL-cache's Stats() accessor do.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Additions uint64
	Evictions uint64
}

func (s *Stats) recordHit()      { s.Hits++ }
func (s *Stats) recordMiss()     { s.Misses++ }
func (s *Stats) recordAdd()      { s.Additions++ }
func (s *Stats) recordEviction() { s.Evictions++ }

// HitRate returns Hits / (Hits + Misses), or 0 if neither has
// happened yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
