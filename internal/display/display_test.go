package display

import (
	"sync"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		description string
		want        Category
	}{
		{"light rain", CategoryRainy},
		{"Heavy Intensity Rain", CategoryRainy},
		{"light intensity drizzle", CategoryRainy},
		{"shower snow", CategoryRainy},
		{"clear sky", CategorySunny},
		{"Sunny", CategorySunny},
		{"sunny with showers", CategoryRainy},
		{"scattered clouds", CategoryCloudy},
		{"overcast clouds", CategoryCloudy},
		{"mist", CategoryCloudy},
		{"Unknown", CategoryCloudy},
		{"", CategoryCloudy},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			if got := Classify(tt.description); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.description, got, tt.want)
			}
		})
	}
}

func TestClassify_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if got := Classify("Heavy Intensity Rain"); got != CategoryRainy {
					t.Errorf("Classify = %q, want %q", got, CategoryRainy)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestRegionName(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"US", "United States"},
		{"gb", "United Kingdom"},
		{"KR", "South Korea"},
		{"FI", "Finland"},
		{"NZ", "NZ"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := RegionName(tt.code); got != tt.want {
			t.Errorf("RegionName(%q) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestSuggest(t *testing.T) {
	t.Run("blank query", func(t *testing.T) {
		if got := Suggest("   ", 8); len(got) != 0 {
			t.Errorf("Suggest(blank) = %v, want empty", got)
		}
	})

	t.Run("prefix before substring", func(t *testing.T) {
		got := Suggest("ma", 0)
		if len(got) == 0 {
			t.Fatal("no suggestions")
		}
		var seenOther bool
		for _, s := range got {
			isPrefix := len(s.Name) >= 2 && (s.Name[:2] == "Ma" || s.Name[:2] == "ma")
			if !isPrefix {
				seenOther = true
			} else if seenOther {
				t.Errorf("prefix match %q listed after a substring match: %v", s.Name, got)
			}
		}
		if got[0].Name != "Manchester" {
			t.Errorf("first suggestion = %q, want Manchester", got[0].Name)
		}
	})

	t.Run("case insensitive", func(t *testing.T) {
		got := Suggest("TOKYO", 8)
		if len(got) != 1 || got[0].Name != "Tokyo" || got[0].Country != "JP" {
			t.Errorf("Suggest(TOKYO) = %v", got)
		}
		if got[0].Region != "Japan" {
			t.Errorf("Region = %q, want Japan", got[0].Region)
		}
	})

	t.Run("matches region", func(t *testing.T) {
		got := Suggest("thailand", 8)
		if len(got) != 3 {
			t.Errorf("Suggest(thailand) = %v, want 3 Thai cities", got)
		}
	})

	t.Run("limit", func(t *testing.T) {
		if got := Suggest("a", 3); len(got) != 3 {
			t.Errorf("len = %d, want 3", len(got))
		}
		if got := Suggest("a", 0); len(got) != DefaultSuggestionLimit {
			t.Errorf("len = %d, want default %d", len(got), DefaultSuggestionLimit)
		}
	})

	t.Run("no match", func(t *testing.T) {
		got := Suggest("zzz", 8)
		if got == nil || len(got) != 0 {
			t.Errorf("Suggest(zzz) = %#v, want empty slice", got)
		}
	})

	t.Run("city conversion", func(t *testing.T) {
		c := Suggest("oslo", 1)[0].City()
		if c.Name != "Oslo" || c.Country != "NO" || !c.IsTracked {
			t.Errorf("City() = %+v", c)
		}
	})
}
