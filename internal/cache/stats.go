package cache

// Stats is a point-in-time view of the cache counters. Hits and Misses only
// grow; Size drops only when a bounded cache evicts.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Size      uint64 `json:"images_in_cache"`
	Evictions uint64 `json:"evictions,omitempty"`
}

// HitRatio is hits over lookups, 0 before the first lookup.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// StatsSource is anything that can report cache counters.
type StatsSource interface {
	Stats() Stats
}

// Reporter is a read-only handle on cache statistics for the transport layer.
type Reporter struct {
	src StatsSource
}

func NewReporter(src StatsSource) *Reporter {
	return &Reporter{src: src}
}

// Snapshot returns counters taken together under the cache lock.
func (r *Reporter) Snapshot() Stats {
	return r.src.Stats()
}
