// Package display derives presentation values from weather state.
package display

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Category is the coarse weather type used to pick a card style.
type Category string

const (
	CategoryRainy  Category = "rainy"
	CategorySunny  Category = "sunny"
	CategoryCloudy Category = "cloudy"
)

// foldLower lower-cases s with a fresh Caser; Casers are not safe for concurrent use.
func foldLower(s string) string {
	return cases.Lower(language.Und).String(s)
}

// Classify buckets a provider description. Rain keywords win over sun
// keywords; anything unrecognised (windy, overcast, mist) is cloudy.
func Classify(description string) Category {
	desc := foldLower(description)
	switch {
	case containsAny(desc, "rain", "drizzle", "shower"):
		return CategoryRainy
	case containsAny(desc, "sun", "clear"):
		return CategorySunny
	default:
		return CategoryCloudy
	}
}

func containsAny(s string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
