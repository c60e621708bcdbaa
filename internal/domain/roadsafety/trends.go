package roadsafety

import (
	"sort"
	"time"
)

// TrendPoint is one month of the traffic series.
type TrendPoint struct {
	Month      string `json:"month"`
	Encounters int    `json:"encounters"`
	Fatalities int    `json:"fatalities"`
	Injuries   int    `json:"injuries"`
}

// MortalitySplit is the deceased vs survived breakdown of cohort patients.
type MortalitySplit struct {
	Deceased int `json:"deceased"`
	Survived int `json:"survived"`
}

// BuildTrends buckets a result by calendar month (UTC). Encounters count in
// the month they started; a deceased patient counts once, in the month of
// their earliest traffic encounter; non-fatal injuries count in the month
// the condition was recorded. Undated records are left out.
func BuildTrends(res *Result) []TrendPoint {
	if res == nil || res.Cohort == nil {
		return []TrendPoint{}
	}
	points := make(map[string]*TrendPoint)
	point := func(t time.Time) *TrendPoint {
		m := t.UTC().Format("2006-01")
		p, ok := points[m]
		if !ok {
			p = &TrendPoint{Month: m}
			points[m] = p
		}
		return p
	}

	firstSeen := make(map[string]time.Time)
	for _, enc := range res.Cohort.TrafficEncounters {
		ts, ok := enc.Timestamp()
		if !ok {
			continue
		}
		point(ts).Encounters++
		key := enc.PatientKey()
		if prev, seen := firstSeen[key]; !seen || ts.Before(prev) {
			firstSeen[key] = ts
		}
	}

	for pid, dead := range res.DeathStatus {
		if !dead {
			continue
		}
		if ts, ok := firstSeen[pid]; ok {
			point(ts).Fatalities++
		}
	}

	for _, cond := range res.Cohort.TrafficConditions {
		if res.DeathStatus[cond.PatientKey()] {
			continue
		}
		if ts, ok := cond.Timestamp(); ok {
			point(ts).Injuries++
		}
	}

	out := make([]TrendPoint, 0, len(points))
	for _, p := range points {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

// MortalityBreakdown splits the cohort's patients by resolved status.
func MortalityBreakdown(res *Result) MortalitySplit {
	var s MortalitySplit
	if res == nil {
		return s
	}
	for _, dead := range res.DeathStatus {
		if dead {
			s.Deceased++
		} else {
			s.Survived++
		}
	}
	return s
}
