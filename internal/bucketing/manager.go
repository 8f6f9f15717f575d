package bucketing

import (
	"hash"
	"sync"
	"time"

	"shadowlog/internal/config"

	"github.com/spaolacci/murmur3"
)

// DateLayout is the partition date written with each event.
const DateLayout = "2006-01-02"

// BucketingManager spreads attack events over a fixed number of partitions
// so one noisy source cannot grow a single partition without bound per day.
type BucketingManager struct {
	eventBuckets int
	hasherPool   sync.Pool
}

type BucketAssignment struct {
	EventBucket int    `json:"event_bucket"`
	DateBucket  string `json:"date_bucket"`
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	buckets := cfg.Bucketing.EventBuckets
	if buckets <= 0 {
		buckets = 1
	}
	bm := &BucketingManager{eventBuckets: buckets}

	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetEventBucket returns a stable bucket in [0, eventBuckets) for a source.
func (bm *BucketingManager) GetEventBucket(source string) int {
	return int(bm.getHash(source) % uint64(bm.eventBuckets))
}

// GetDateBucket is the UTC day of t.
func (bm *BucketingManager) GetDateBucket(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// GetTimeBucket floors t to a window of windowSeconds.
func (bm *BucketingManager) GetTimeBucket(t time.Time, windowSeconds int) int64 {
	if windowSeconds <= 0 {
		return t.Unix()
	}
	return t.Unix() / int64(windowSeconds) * int64(windowSeconds)
}

func (bm *BucketingManager) Assign(source string, at time.Time) BucketAssignment {
	return BucketAssignment{
		EventBucket: bm.GetEventBucket(source),
		DateBucket:  bm.GetDateBucket(at),
	}
}

func (bm *BucketingManager) GetEventBuckets() int {
	return bm.eventBuckets
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
