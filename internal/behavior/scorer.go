package behavior

import (
	"context"
	"math"
	"sync"
	"time"
)

// Features is the request metadata the scorer samples. No body content
// is ever inspected.
type Features struct {
	Endpoint  string
	ParamHash string // caller-computed signature of the query parameters
	UserAgent string
}

// Factor weights. Tuned so a single anomalous factor cannot push the
// multiplier past halving the quota on its own.
const (
	weightTiming  = 1.2
	weightProbing = 1.0
	weightHeaders = 0.8
)

type Config struct {
	MaxMultiplier float64       // multiplier ceiling (default 4.0)
	SampleSize    int           // arrivals kept per identity (default 32)
	IdleTTL       time.Duration // evict identities quiet this long (default 30m)
}

// Scorer computes an advisory risk multiplier from request-pattern
// statistics. It never blocks by itself; the evaluator shrinks
// effective limits by the returned factor.
type Scorer struct {
	mu       sync.Mutex
	sessions map[string]*session

	maxMultiplier float64
	sampleSize    int
	idleTTL       time.Duration
}

type session struct {
	arrivals   []time.Time
	paramSeen  map[string]int
	agentsSeen map[string]struct{}
	lastSeen   time.Time
}

func NewScorer(cfg Config) *Scorer {
	if cfg.MaxMultiplier <= 1.0 {
		cfg.MaxMultiplier = 4.0
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 32
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}

	return &Scorer{
		sessions:      make(map[string]*session),
		maxMultiplier: cfg.MaxMultiplier,
		sampleSize:    cfg.SampleSize,
		idleTTL:       cfg.IdleTTL,
	}
}

// Score records the request and returns the current multiplier for the
// identity, always >= 1.0.
func (s *Scorer) Score(identityKey string, f Features) float64 {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessions[identityKey]
	if sess == nil {
		sess = &session{
			paramSeen:  make(map[string]int),
			agentsSeen: make(map[string]struct{}),
		}
		s.sessions[identityKey] = sess
	}

	sess.lastSeen = now
	sess.arrivals = append(sess.arrivals, now)
	if len(sess.arrivals) > s.sampleSize {
		sess.arrivals = sess.arrivals[len(sess.arrivals)-s.sampleSize:]
	}

	if f.ParamHash != "" {
		if len(sess.paramSeen) < 4*s.sampleSize {
			sess.paramSeen[f.Endpoint+"|"+f.ParamHash]++
		}
	}
	if f.UserAgent != "" {
		if len(sess.agentsSeen) < 16 {
			sess.agentsSeen[f.UserAgent] = struct{}{}
		}
	}

	score := weightTiming*sess.timingScore() +
		weightProbing*sess.probingScore() +
		weightHeaders*sess.headerScore()

	multiplier := 1.0 + score
	if multiplier > s.maxMultiplier {
		multiplier = s.maxMultiplier
	}

	return multiplier
}

// timingScore flags inter-arrival patterns that are too regular
// (scripted) or too bursty for a human session. Returns [0, 1].
func (sess *session) timingScore() float64 {
	n := len(sess.arrivals)
	if n < 8 {
		return 0
	}

	intervals := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		intervals = append(intervals, sess.arrivals[i].Sub(sess.arrivals[i-1]).Seconds())
	}

	var sum float64
	for _, v := range intervals {
		sum += v
	}
	mean := sum / float64(len(intervals))
	if mean <= 0 {
		return 1
	}

	var variance float64
	for _, v := range intervals {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(intervals))
	cv := math.Sqrt(variance) / mean

	switch {
	case mean < 0.05:
		// sub-50ms sustained cadence
		return 1
	case cv < 0.1:
		// metronome-regular arrivals
		return 0.7
	case cv > 5.0:
		// extreme burst-and-idle pattern
		return 0.5
	default:
		return 0
	}
}

// probingScore flags many distinct parameter signatures against the
// same endpoints, each tried once. Returns [0, 1].
func (sess *session) probingScore() float64 {
	total := 0
	singles := 0
	for _, hits := range sess.paramSeen {
		total += hits
		if hits == 1 {
			singles++
		}
	}
	if total < 10 {
		return 0
	}

	ratio := float64(singles) / float64(len(sess.paramSeen))
	if len(sess.paramSeen) >= 10 && ratio > 0.9 {
		return 1
	}
	if len(sess.paramSeen) >= 10 && ratio > 0.7 {
		return 0.5
	}
	return 0
}

// headerScore flags user-agent churn inside one session. Returns [0, 1].
func (sess *session) headerScore() float64 {
	switch n := len(sess.agentsSeen); {
	case n >= 4:
		return 1
	case n >= 2:
		return 0.4
	default:
		return 0
	}
}

// Sweep evicts identities idle past the TTL.
func (s *Scorer) Sweep() int {
	cutoff := time.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for key, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			delete(s.sessions, key)
			evicted++
		}
	}
	return evicted
}

// StartJanitor sweeps idle sessions until ctx is cancelled.
func (s *Scorer) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}

	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}
