// Package anomaly extracts behavioral features from a caller's decision
// history and submits them to an external anomaly detection service. The
// service is advisory: any failure degrades to a safe "allow" prediction so
// the enforcement path never depends on it.
package anomaly

import (
	"time"

	"vaultgate/internal/decision"
	"vaultgate/internal/identity"
)

// burstGap is the maximum spacing between three consecutive requests for
// them to count as one burst.
const burstGap = 10 * time.Second

// Features is the vector the detection service scores. Field names follow
// the service's contract.
type Features struct {
	RequestsPerMinute float64 `json:"requests_per_minute"`
	BurstCount        int     `json:"burst_count"`
	UniqueEndpoints   int     `json:"unique_endpoints"`
	AvgIntervalMs     float64 `json:"avg_interval_ms"`
	FailedRequests    int     `json:"failed_requests"`
	RateLimitHits     int     `json:"rate_limit_hits"`
	IsAuthenticated   bool    `json:"is_authenticated"`
	HourOfDay         int     `json:"time_of_day"`
	TotalRequests     int     `json:"total_requests"`
}

// ExtractFeatures computes the feature vector from a caller's records inside
// the observation window ending at now. Records outside the window are
// ignored; ordering of the input does not matter.
func ExtractFeatures(records []decision.Record, window time.Duration, caller identity.CallerIdentity, now time.Time) Features {
	cutoff := now.Add(-window)

	var times []time.Time
	endpoints := make(map[string]struct{})
	f := Features{
		IsAuthenticated: caller.Authenticated(),
		HourOfDay:       now.UTC().Hour(),
	}

	for _, rec := range records {
		if !rec.Timestamp.After(cutoff) {
			continue
		}
		f.TotalRequests++
		times = append(times, rec.Timestamp)
		endpoints[rec.Endpoint] = struct{}{}
		if rec.StatusCode >= 400 {
			f.FailedRequests++
		}
		if rec.StatusCode == 429 || rec.Blocked {
			f.RateLimitHits++
		}
	}

	f.UniqueEndpoints = len(endpoints)
	if minutes := window.Minutes(); minutes > 0 {
		f.RequestsPerMinute = float64(f.TotalRequests) / minutes
	}

	sortTimes(times)
	f.BurstCount = countBursts(times)
	f.AvgIntervalMs = avgIntervalMs(times)
	return f
}

// countBursts counts positions where three consecutive requests all landed
// within burstGap of each other.
func countBursts(times []time.Time) int {
	bursts := 0
	for i := 2; i < len(times); i++ {
		if times[i].Sub(times[i-2]) <= burstGap {
			bursts++
		}
	}
	return bursts
}

func avgIntervalMs(times []time.Time) float64 {
	if len(times) < 2 {
		return 0
	}
	total := times[len(times)-1].Sub(times[0])
	return float64(total.Milliseconds()) / float64(len(times)-1)
}

// sortTimes is an insertion sort; histories are small and usually already
// ordered one way or the other.
func sortTimes(times []time.Time) {
	for i := 1; i < len(times); i++ {
		for j := i; j > 0 && times[j].Before(times[j-1]); j-- {
			times[j], times[j-1] = times[j-1], times[j]
		}
	}
}
