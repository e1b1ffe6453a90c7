package gossip

import (
	"sync"
	"time"
)

// loadRingSize is the number of one-second buckets the estimator retains
// when computing a trailing messages-per-second rate.
const loadRingSize = 60

// loadEstimator tracks a trailing 60-second messages-per-second rate
// and derives the adaptive tick interval from it by linear
// interpolation between [minInterval at <=1 msg/s] and [maxInterval at
// >=5 msg/s], clamped to +/-20% change per adaptation step to avoid
// oscillation.
type loadEstimator struct {
	mu           sync.Mutex
	ring         [loadRingSize]int
	ringIdx      int
	lastBucket   int64
	lastInterval time.Duration

	minInterval time.Duration
	maxInterval time.Duration
}

func newLoadEstimator(minInterval, maxInterval time.Duration) *loadEstimator {
	return &loadEstimator{
		minInterval:  minInterval,
		maxInterval:  maxInterval,
		lastInterval: minInterval,
	}
}

// RecordMessage counts one gossip message (send or receive) against
// the current second's bucket.
func (e *loadEstimator) RecordMessage(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rotateLocked(now)
	e.ring[e.ringIdx]++
}

func (e *loadEstimator) rotateLocked(now time.Time) {
	bucket := now.Unix()
	if e.lastBucket == 0 {
		e.lastBucket = bucket
		return
	}
	delta := bucket - e.lastBucket
	if delta <= 0 {
		return
	}
	if delta >= loadRingSize {
		e.ring = [loadRingSize]int{}
		e.ringIdx = 0
	} else {
		for i := int64(0); i < delta; i++ {
			e.ringIdx = (e.ringIdx + 1) % loadRingSize
			e.ring[e.ringIdx] = 0
		}
	}
	e.lastBucket = bucket
}

// rate returns the average messages-per-second over the trailing window.
func (e *loadEstimator) rate(now time.Time) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rotateLocked(now)

	total := 0
	for _, v := range e.ring {
		total += v
	}
	return float64(total) / float64(loadRingSize)
}

// NextInterval computes the next tick interval given the current
// message rate, clamped to +/-20% of the previous interval.
func (e *loadEstimator) NextInterval(now time.Time) time.Duration {
	rps := e.rate(now)

	target := e.minInterval
	switch {
	case rps <= 1:
		target = e.minInterval
	case rps >= 5:
		target = e.maxInterval
	default:
		frac := (rps - 1) / 4
		target = e.minInterval + time.Duration(frac*float64(e.maxInterval-e.minInterval))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	maxStep := time.Duration(float64(e.lastInterval) * 0.2)
	if maxStep <= 0 {
		maxStep = time.Millisecond
	}
	switch {
	case target > e.lastInterval+maxStep:
		target = e.lastInterval + maxStep
	case target < e.lastInterval-maxStep:
		target = e.lastInterval - maxStep
	}

	if target < e.minInterval {
		target = e.minInterval
	}
	if target > e.maxInterval {
		target = e.maxInterval
	}

	e.lastInterval = target
	return target
}
