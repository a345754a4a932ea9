package tracker

import "github.com/lox/weathertracker/internal/models"

// State is the application state handed to the presentation layer.
type State struct {
	TrackedCities []models.City                     `json:"trackedCities"`
	WeatherData   map[string]models.WeatherSnapshot `json:"weatherData"`
	IsLoading     bool                              `json:"isLoading"`
	Error         string                            `json:"error,omitempty"`
	Generation    uint64                            `json:"generation"`
}

// Weather returns the latest snapshot for city, if one was fetched.
func (s State) Weather(city models.City) (models.WeatherSnapshot, bool) {
	w, ok := s.WeatherData[city.Key()]
	return w, ok
}

func (s State) clone() State {
	s.TrackedCities = cloneCities(s.TrackedCities)
	s.WeatherData = cloneWeather(s.WeatherData)
	return s
}

func cloneCities(cities []models.City) []models.City {
	out := make([]models.City, len(cities))
	copy(out, cities)
	return out
}

func cloneWeather(weather map[string]models.WeatherSnapshot) map[string]models.WeatherSnapshot {
	out := make(map[string]models.WeatherSnapshot, len(weather))
	for k, v := range weather {
		out[k] = v
	}
	return out
}
