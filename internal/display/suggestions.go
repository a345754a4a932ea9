package display

import (
	"strings"

	"github.com/lox/weathertracker/internal/models"
)

// DefaultSuggestionLimit caps Suggest when no positive limit is given.
const DefaultSuggestionLimit = 8

// Suggestion is a city offered while the user types.
type Suggestion struct {
	Name    string `json:"name"`
	Country string `json:"country"`
	Region  string `json:"region"`
}

// City converts the suggestion to a trackable city.
func (s Suggestion) City() models.City {
	return models.NewCity(s.Name, s.Country)
}

var popularCities = []Suggestion{
	{"New York", "US", ""},
	{"Los Angeles", "US", ""},
	{"Chicago", "US", ""},
	{"San Francisco", "US", ""},
	{"Seattle", "US", ""},
	{"Miami", "US", ""},
	{"London", "GB", ""},
	{"Manchester", "GB", ""},
	{"Edinburgh", "GB", ""},
	{"Tokyo", "JP", ""},
	{"Osaka", "JP", ""},
	{"Kyoto", "JP", ""},
	{"Paris", "FR", ""},
	{"Marseille", "FR", ""},
	{"Lyon", "FR", ""},
	{"Berlin", "DE", ""},
	{"Munich", "DE", ""},
	{"Hamburg", "DE", ""},
	{"Rome", "IT", ""},
	{"Milan", "IT", ""},
	{"Venice", "IT", ""},
	{"Madrid", "ES", ""},
	{"Barcelona", "ES", ""},
	{"Seville", "ES", ""},
	{"Moscow", "RU", ""},
	{"Saint Petersburg", "RU", ""},
	{"Beijing", "CN", ""},
	{"Shanghai", "CN", ""},
	{"Shenzhen", "CN", ""},
	{"Mumbai", "IN", ""},
	{"Delhi", "IN", ""},
	{"Bangalore", "IN", ""},
	{"Rio de Janeiro", "BR", ""},
	{"Sao Paulo", "BR", ""},
	{"Sydney", "AU", ""},
	{"Melbourne", "AU", ""},
	{"Brisbane", "AU", ""},
	{"Toronto", "CA", ""},
	{"Vancouver", "CA", ""},
	{"Montreal", "CA", ""},
	{"Bangkok", "TH", ""},
	{"Chiang Mai", "TH", ""},
	{"Phuket", "TH", ""},
	{"Seoul", "KR", ""},
	{"Busan", "KR", ""},
	{"Mexico City", "MX", ""},
	{"Cancun", "MX", ""},
	{"Amsterdam", "NL", ""},
	{"Rotterdam", "NL", ""},
	{"Stockholm", "SE", ""},
	{"Gothenburg", "SE", ""},
	{"Copenhagen", "DK", ""},
	{"Oslo", "NO", ""},
	{"Bergen", "NO", ""},
	{"Helsinki", "FI", ""},
}

func init() {
	for i := range popularCities {
		popularCities[i].Region = RegionName(popularCities[i].Country)
	}
}

// Suggest returns catalog cities whose name contains query, ignoring case.
// Name prefix matches come first, then other matches, each in catalog order.
// Region names also match. A blank query returns nothing.
func Suggest(query string, limit int) []Suggestion {
	q := foldLower(strings.TrimSpace(query))
	if q == "" {
		return []Suggestion{}
	}
	if limit <= 0 {
		limit = DefaultSuggestionLimit
	}

	var prefix, other []Suggestion
	for _, s := range popularCities {
		name := foldLower(s.Name)
		switch {
		case strings.HasPrefix(name, q):
			prefix = append(prefix, s)
		case strings.Contains(name, q), strings.Contains(foldLower(s.Region), q):
			other = append(other, s)
		}
	}

	out := append(prefix, other...)
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []Suggestion{}
	}
	return out
}
