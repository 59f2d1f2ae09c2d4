package pricing

import (
	"math"
	"sort"
	"time"

	"github.com/jbweber/homelab/perch/internal/domain"
)

// DayUsage is the run time attributed to one local calendar day.
type DayUsage struct {
	Date    string `json:"date"` // YYYY-MM-DD in local time
	Minutes int64  `json:"minutes"`
}

// CostReport is the cost estimate for one instance over a billing window.
// Monetary fields are rounded to 2 decimals for presentation; the ledger
// itself stays in whole minutes.
type CostReport struct {
	InstanceID   int64      `json:"instanceId"`
	UserID       string     `json:"userId"`
	Type         string     `json:"type"`
	Running      bool       `json:"running"`
	Minutes      int64      `json:"minutes"`
	ComputeCost  float64    `json:"computeCost"`
	StorageCost  float64    `json:"storageCost"`
	TotalCost    float64    `json:"totalCost"`
	Daily         []DayUsage `json:"daily"`
	HourlyRate    float64    `json:"hourlyRate"`
	VolumeSizeGB  int32      `json:"volumeSizeGb"`
	StorageGBRate float64    `json:"storageGbRate"`
}

// AggregateReport is the fleet-wide cost view for administrators.
type AggregateReport struct {
	Instances    []CostReport `json:"instances"`
	TotalCost    float64      `json:"totalCost"`
	ComputeCost  float64      `json:"computeCost"`
	StorageCost  float64      `json:"storageCost"`
	RunningCount int          `json:"runningCount"`
	TotalCount   int          `json:"totalCount"`
}

// Round2 rounds to 2 decimal places, half away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// MonthRange returns the current billing window: [first of the month,
// first of the next month) in now's location.
func MonthRange(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return start, start.AddDate(0, 1, 0)
}

// OverlapMinutes returns the whole minutes an interval overlaps a window.
// Open intervals (nil stop) are clamped to now, so the figure grows
// monotonically between reads while an instance keeps running.
func OverlapMinutes(start time.Time, stop *time.Time, windowStart, windowEnd, now time.Time) int64 {
	effectiveStop := now
	if stop != nil {
		effectiveStop = *stop
	}
	if effectiveStop.After(windowEnd) {
		effectiveStop = windowEnd
	}
	effectiveStart := start
	if effectiveStart.Before(windowStart) {
		effectiveStart = windowStart
	}
	if !effectiveStop.After(effectiveStart) {
		return 0
	}
	return int64(math.Round(effectiveStop.Sub(effectiveStart).Minutes()))
}

// InstanceCost computes the cost estimate for an instance from its ledger
// over [windowStart, windowEnd). Compute cost follows run minutes; storage
// is flat for the window while the instance exists.
func InstanceCost(instance domain.Instance, intervals []domain.UsageInterval, windowStart, windowEnd, now time.Time) CostReport {
	preset := GetPreset(instance.Type)

	var minutes int64
	for _, iv := range intervals {
		minutes += OverlapMinutes(iv.StartedAt, iv.StoppedAt, windowStart, windowEnd, now)
	}

	compute := (float64(minutes) / 60) * preset.HourlyRate
	storage := float64(preset.VolumeSizeGB) * preset.StorageGBRate

	return CostReport{
		InstanceID:    instance.ID,
		UserID:        instance.UserID,
		Type:          instance.Type,
		Running:       instance.Status == domain.StatusRunning,
		Minutes:       minutes,
		ComputeCost:   Round2(compute),
		StorageCost:   Round2(storage),
		TotalCost:     Round2(compute + storage),
		Daily:         DailyBreakdown(intervals, windowStart, windowEnd, now),
		HourlyRate:    preset.HourlyRate,
		VolumeSizeGB:  preset.VolumeSizeGB,
		StorageGBRate: preset.StorageGBRate,
	}
}

// DailyBreakdown splits ledger run time across local calendar days within
// the window. Recomputed on every read; never stored.
func DailyBreakdown(intervals []domain.UsageInterval, windowStart, windowEnd, now time.Time) []DayUsage {
	byDay := make(map[string]int64)

	for _, iv := range intervals {
		stop := now
		if iv.StoppedAt != nil {
			stop = *iv.StoppedAt
		}
		if stop.After(windowEnd) {
			stop = windowEnd
		}
		start := iv.StartedAt
		if start.Before(windowStart) {
			start = windowStart
		}
		if !stop.After(start) {
			continue
		}

		// Walk the interval one local day at a time.
		cursor := start.In(windowStart.Location())
		stop = stop.In(windowStart.Location())
		for cursor.Before(stop) {
			dayEnd := time.Date(cursor.Year(), cursor.Month(), cursor.Day(), 0, 0, 0, 0, cursor.Location()).AddDate(0, 0, 1)
			segmentEnd := stop
			if dayEnd.Before(segmentEnd) {
				segmentEnd = dayEnd
			}
			key := cursor.Format("2006-01-02")
			byDay[key] += int64(math.Round(segmentEnd.Sub(cursor).Minutes()))
			cursor = segmentEnd
		}
	}

	days := make([]DayUsage, 0, len(byDay))
	for date, minutes := range byDay {
		days = append(days, DayUsage{Date: date, Minutes: minutes})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })
	return days
}

// AggregateCosts rolls per-instance reports into the fleet view, ordered
// by descending total cost. Ties keep their input order.
func AggregateCosts(reports []CostReport) AggregateReport {
	agg := AggregateReport{
		Instances:  make([]CostReport, len(reports)),
		TotalCount: len(reports),
	}
	copy(agg.Instances, reports)

	sort.SliceStable(agg.Instances, func(i, j int) bool {
		return agg.Instances[i].TotalCost > agg.Instances[j].TotalCost
	})

	// Totals accumulate from the raw rate arithmetic; the per-instance
	// fields are already rounded and would compound the rounding error.
	var compute, storage float64
	for _, r := range agg.Instances {
		compute += (float64(r.Minutes) / 60) * r.HourlyRate
		storage += float64(r.VolumeSizeGB) * r.StorageGBRate
		if r.Running {
			agg.RunningCount++
		}
	}
	agg.ComputeCost = Round2(compute)
	agg.StorageCost = Round2(storage)
	agg.TotalCost = Round2(compute + storage)
	return agg
}
