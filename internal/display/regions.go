package display

import "strings"

var regionNames = map[string]string{
	"US": "United States",
	"GB": "United Kingdom",
	"JP": "Japan",
	"FR": "France",
	"DE": "Germany",
	"IT": "Italy",
	"ES": "Spain",
	"RU": "Russia",
	"CN": "China",
	"IN": "India",
	"BR": "Brazil",
	"AU": "Australia",
	"CA": "Canada",
	"TH": "Thailand",
	"KR": "South Korea",
	"MX": "Mexico",
	"NL": "Netherlands",
	"SE": "Sweden",
	"DK": "Denmark",
	"NO": "Norway",
	"FI": "Finland",
}

// RegionName returns the display name for an ISO country code, or the code
// itself when it is not known.
func RegionName(code string) string {
	if name, ok := regionNames[strings.ToUpper(code)]; ok {
		return name
	}
	return code
}
