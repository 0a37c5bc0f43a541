package theta

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// #region constants

const (
	// fingerprintLen is the hex-truncated length of a context fingerprint.
	fingerprintLen = 16

	// todBucketHours is the time-of-day bucket width. Four hours is coarse
	// enough that a cached theta survives ordinary clock drift within a
	// shift but still separates, say, nightly batch load from daytime
	// interactive load.
	todBucketHours = 4

	// errRateBucketPct is the error-rate bucket width in percent. The
	// fingerprint must not churn on every small rate fluctuation.
	errRateBucketPct = 5
)

// #endregion constants

// #region health-probe

// HealthProbe reports the coarse health state of external dependencies,
// e.g. {"search-backend": "ok", "extract-api": "degraded"}. The controller
// folds it into the context fingerprint.
type HealthProbe interface {
	Health(ctx context.Context) map[string]string
}

// StaticProbe is a fixed health map, for deployments without live probes
// and for tests.
type StaticProbe map[string]string

func (p StaticProbe) Health(context.Context) map[string]string { return p }

// #endregion health-probe

// #region fingerprint

// Fingerprint hashes the current operating context into a short stable key:
// sorted dependency-health pairs, a time-of-day bucket, and a coarse
// recent-error-rate bucket. Matching conditions produce matching keys, so a
// cached stabilization can be reused.
func Fingerprint(health map[string]string, at time.Time, errRate float64) string {
	h := sha256.New()

	keys := make([]string, 0, len(health))
	for k := range health {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s;", k, health[k])
	}

	fmt.Fprintf(h, "tod=%d;", at.UTC().Hour()/todBucketHours)
	fmt.Fprintf(h, "err=%d;", errRateBucket(errRate))

	return hex.EncodeToString(h.Sum(nil))[:fingerprintLen]
}

func errRateBucket(rate float64) int {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	return int(rate*100) / errRateBucketPct
}

// #endregion fingerprint
