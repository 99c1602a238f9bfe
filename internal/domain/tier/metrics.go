package tier

import "math"

// Valid metric ranges.
const (
	MaxRating          = 5.0
	MaxPercent         = 100.0
	MinResponseMinutes = 1.0
	MaxResponseMinutes = 480.0
)

// Metric names a single rolling metric.
type Metric string

// Rolling metrics tracked per contractor.
const (
	MetricCompletedJobs    Metric = "completed_jobs"
	MetricRating           Metric = "rating"
	MetricPhotoQuality     Metric = "photo_quality"
	MetricResponseMinutes  Metric = "response_minutes"
	MetricOnTimeRate       Metric = "on_time_rate"
	MetricSatisfactionRate Metric = "satisfaction_rate"
)

// AllMetrics lists the metrics in report order.
var AllMetrics = []Metric{
	MetricCompletedJobs,
	MetricRating,
	MetricPhotoQuality,
	MetricResponseMinutes,
	MetricOnTimeRate,
	MetricSatisfactionRate,
}

// Metrics are a contractor's rolling performance numbers. Rates and the
// photo-quality score are percentages in [0,100].
type Metrics struct {
	Rating           float64 `json:"rating"`
	CompletedJobs    int     `json:"completed_jobs"`
	PhotoQuality     float64 `json:"photo_quality"`
	ResponseMinutes  float64 `json:"response_minutes"`
	OnTimeRate       float64 `json:"on_time_rate"`
	SatisfactionRate float64 `json:"satisfaction_rate"`
}

// Clamp forces every metric into its valid range. NaN becomes the worst value.
func (m Metrics) Clamp() Metrics {
	return Metrics{
		Rating:           clamp(m.Rating, 0, MaxRating, 0),
		CompletedJobs:    max(m.CompletedJobs, 0),
		PhotoQuality:     clamp(m.PhotoQuality, 0, MaxPercent, 0),
		ResponseMinutes:  clamp(m.ResponseMinutes, MinResponseMinutes, MaxResponseMinutes, MaxResponseMinutes),
		OnTimeRate:       clamp(m.OnTimeRate, 0, MaxPercent, 0),
		SatisfactionRate: clamp(m.SatisfactionRate, 0, MaxPercent, 0),
	}
}

// value returns the metric as a float for threshold arithmetic.
func (m Metrics) value(k Metric) float64 {
	switch k {
	case MetricCompletedJobs:
		return float64(m.CompletedJobs)
	case MetricRating:
		return m.Rating
	case MetricPhotoQuality:
		return m.PhotoQuality
	case MetricResponseMinutes:
		return m.ResponseMinutes
	case MetricOnTimeRate:
		return m.OnTimeRate
	case MetricSatisfactionRate:
		return m.SatisfactionRate
	}
	return 0
}

func clamp(v, lo, hi, nan float64) float64 {
	if math.IsNaN(v) {
		return nan
	}
	return math.Max(lo, math.Min(hi, v))
}

// Score weights. They sum to 1.
const (
	weightCompleted = 0.25
	weightRating    = 0.30
	weightPhoto     = 0.20
	weightResponse  = 0.15
	weightOnTime    = 0.10
)

// WeightedScore blends the clamped metrics into a [0,100] ranking score that
// is independent of the discrete tier. Completed jobs saturate at
// completedCap; response time is inverted so faster scores higher.
func WeightedScore(m Metrics, completedCap int) float64 {
	m = m.Clamp()
	if completedCap < 1 {
		completedCap = 1
	}
	completed := math.Min(float64(m.CompletedJobs)/float64(completedCap), 1) * MaxPercent
	rating := m.Rating / MaxRating * MaxPercent
	response := (MaxResponseMinutes - m.ResponseMinutes) / (MaxResponseMinutes - MinResponseMinutes) * MaxPercent

	score := completed*weightCompleted +
		rating*weightRating +
		m.PhotoQuality*weightPhoto +
		response*weightResponse +
		m.OnTimeRate*weightOnTime

	return math.Max(0, math.Min(MaxPercent, score))
}
