package monitor

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Point is one hourly bucket of the activity graph.
type Point struct {
	At    time.Time
	Count int
}

// MarshalJSON encodes the point as the same [epoch_ms, count] pair it is
// decoded from.
func (p Point) MarshalJSON() ([]byte, error) {
	out, err := json.Marshal([2]int64{p.At.UnixMilli(), int64(p.Count)})
	if err != nil {
		return nil, fmt.Errorf("graph point: %w", err)
	}
	return out, nil
}

// UnmarshalJSON decodes the server's [epoch_ms, count] pair.
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("graph point: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("graph point: want 2 values, got %d", len(pair))
	}
	p.At = time.UnixMilli(int64(pair[0])).UTC()
	p.Count = int(math.Round(pair[1]))
	return nil
}

// Series is a named line on the graph.
type Series struct {
	Key     string  `json:"key"`
	Name    string  `json:"name"`
	Points  []Point `json:"points"`
	Visible bool    `json:"visible"`
}

// Total sums the series.
func (s Series) Total() int {
	n := 0
	for _, p := range s.Points {
		n += p.Count
	}
	return n
}

// Graph is a decoded /monitor/graph response.
type Graph struct {
	Series    []Series  `json:"series"`
	FetchedAt time.Time `json:"fetched_at"`
}

// seriesNames lists the known series in display order.
var seriesNames = []struct{ key, name string }{
	{"remixTrue", "Finished"},
	{"remixFalse", "Failed"},
	{"shareTrue", "Shared"},
	{"shareFalse", "Failed Sharing"},
	{"download", "Downloaded"},
}

// BuildGraph names the raw series. Missing series are reported empty and
// hidden; a series is visible only if some point is non-zero.
func BuildGraph(raw map[string][]Point, fetchedAt time.Time) Graph {
	g := Graph{FetchedAt: fetchedAt, Series: make([]Series, 0, len(seriesNames))}
	for _, sn := range seriesNames {
		points := raw[sn.key]
		g.Series = append(g.Series, Series{
			Key:     sn.key,
			Name:    sn.name,
			Points:  points,
			Visible: nonZero(points),
		})
	}
	return g
}

func nonZero(points []Point) bool {
	for _, p := range points {
		if p.Count != 0 {
			return true
		}
	}
	return false
}
