package models

import (
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// City is a location the user wants to monitor. Identity is the
// (Name, Country) pair, compared case-insensitively.
type City struct {
	Name      string `json:"name"`
	Country   string `json:"country"`
	IsTracked bool   `json:"isTracked"`
}

// NewCity returns a tracked city.
func NewCity(name, country string) City {
	return City{Name: name, Country: country, IsTracked: true}
}

// Key returns the weather-map key "name,country" exactly as constructed.
func (c City) Key() string {
	return c.Name + "," + c.Country
}

// SameAs reports whether two cities share an identity, ignoring case.
func (c City) SameAs(other City) bool {
	fold := cases.Fold()
	return fold.String(c.Name) == fold.String(other.Name) &&
		fold.String(c.Country) == fold.String(other.Country)
}

// UnmarshalJSON defaults isTracked to true when the field is absent.
func (c *City) UnmarshalJSON(data []byte) error {
	type plain City
	p := plain{IsTracked: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = City(p)
	return nil
}

// ContainsCity reports whether cities holds a city with the same identity as c.
func ContainsCity(cities []City, c City) bool {
	for _, existing := range cities {
		if existing.SameAs(c) {
			return true
		}
	}
	return false
}

// EqualCities reports whether two lists hold the same cities in the same order.
func EqualCities(a, b []City) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// NormalizeCity trims whitespace from user-supplied city fields.
func NormalizeCity(name, country string) City {
	return NewCity(strings.TrimSpace(name), strings.TrimSpace(country))
}

// DefaultCities seeds an empty store on first launch.
var DefaultCities = []City{
	NewCity("New York", "US"),
	NewCity("London", "GB"),
	NewCity("Tokyo", "JP"),
	NewCity("Bangkok", "TH"),
}

// WeatherSnapshot is the current weather for one city as reported by the
// provider. Values are passed through in provider units (metric).
type WeatherSnapshot struct {
	City        string    `json:"city"`
	Country     string    `json:"country"`
	Temperature float64   `json:"temperature"`
	Description string    `json:"description"`
	Humidity    int       `json:"humidity"`
	WindSpeed   float64   `json:"windSpeed"`
	Pressure    int       `json:"pressure"`
	Icon        string    `json:"icon"`
	FetchedAt   time.Time `json:"fetchedAt"`
}

// Fallbacks used when the provider returns no condition entries.
const (
	UnknownDescription = "Unknown"
	FallbackIcon       = "01d"
)
