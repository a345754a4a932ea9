package api

import (
	"time"

	"github.com/lox/weathertracker/internal/display"
	"github.com/lox/weathertracker/internal/models"
	"github.com/lox/weathertracker/internal/store"
	"github.com/lox/weathertracker/internal/tracker"
)

// WeatherView is a snapshot with its display category.
type WeatherView struct {
	models.WeatherSnapshot
	Category display.Category `json:"category"`
}

// CityView is a tracked city as rendered on a weather card.
type CityView struct {
	Name      string       `json:"name"`
	Country   string       `json:"country"`
	IsTracked bool         `json:"isTracked"`
	Key       string       `json:"key"`
	Region    string       `json:"region"`
	Weather   *WeatherView `json:"weather,omitempty"`
}

// StateView is the JSON form of tracker.State.
type StateView struct {
	TrackedCities []CityView             `json:"trackedCities"`
	WeatherData   map[string]WeatherView `json:"weatherData"`
	IsLoading     bool                   `json:"isLoading"`
	Error         string                 `json:"error,omitempty"`
	Generation    uint64                 `json:"generation"`
}

func newStateView(s tracker.State) StateView {
	v := StateView{
		TrackedCities: make([]CityView, 0, len(s.TrackedCities)),
		WeatherData:   make(map[string]WeatherView, len(s.WeatherData)),
		IsLoading:     s.IsLoading,
		Error:         s.Error,
		Generation:    s.Generation,
	}

	for key, snap := range s.WeatherData {
		v.WeatherData[key] = WeatherView{WeatherSnapshot: snap, Category: display.Classify(snap.Description)}
	}

	for _, c := range s.TrackedCities {
		cv := CityView{
			Name:      c.Name,
			Country:   c.Country,
			IsTracked: c.IsTracked,
			Key:       c.Key(),
			Region:    display.RegionName(c.Country),
		}
		if w, ok := v.WeatherData[cv.Key]; ok {
			cv.Weather = &w
		}
		v.TrackedCities = append(v.TrackedCities, cv)
	}
	return v
}

// RunView is a fetch run with nullable columns flattened.
type RunView struct {
	BatchID         string     `json:"batchId"`
	Generation      uint64     `json:"generation"`
	StartedAt       time.Time  `json:"startedAt"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
	CitiesRequested int        `json:"citiesRequested"`
	CitiesSucceeded *int64     `json:"citiesSucceeded,omitempty"`
	Success         bool       `json:"success"`
	Error           string     `json:"error,omitempty"`
}

func newRunView(r store.FetchRun) RunView {
	v := RunView{
		BatchID:         r.BatchID,
		Generation:      r.Generation,
		StartedAt:       r.StartedAt,
		CitiesRequested: r.CitiesRequested,
		Success:         r.Success,
		Error:           r.ErrorMessage.String,
	}
	if r.FinishedAt.Valid {
		v.FinishedAt = &r.FinishedAt.Time
	}
	if r.CitiesSucceeded.Valid {
		v.CitiesSucceeded = &r.CitiesSucceeded.Int64
	}
	return v
}
