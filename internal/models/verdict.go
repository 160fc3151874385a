package models

import (
	"fmt"
	"time"
)

// Verdict is the outbound payload describing whether it is cold at the
// configured point. Numeric fields are pre-formatted to one decimal digit so
// the serialized response is stable across cache round trips.
type Verdict struct {
	Temperature string `json:"temperature"`
	FeelsLike   string `json:"feelsLike"`
	IsKoldt     bool   `json:"isKoldt"`
	Timestamp   string `json:"timestamp"`
	WindSpeed   string `json:"windSpeed"`
}

// FormatValue renders a numeric output value with exactly one decimal digit.
func FormatValue(v float64) string {
	return fmt.Sprintf("%.1f", v)
}

// QueryWindow is the forecast time window sent upstream: [now, now+1h],
// both bounds truncated to whole seconds.
type QueryWindow struct {
	Start time.Time
	End   time.Time
}

// windowTimeLayout matches the upstream datetime format: sub-second precision
// zeroed, fixed UTC marker.
const windowTimeLayout = "2006-01-02T15:04:05.000Z"

// NewQueryWindow builds the one-hour forecast window anchored at now.
func NewQueryWindow(now time.Time) QueryWindow {
	start := now.UTC().Truncate(time.Second)
	return QueryWindow{
		Start: start,
		End:   start.Add(time.Hour),
	}
}

// Datetime renders the window as the upstream "start/end" range parameter.
func (w QueryWindow) Datetime() string {
	return w.Start.Format(windowTimeLayout) + "/" + w.End.Format(windowTimeLayout)
}
