package lobby

import "fmt"

// Disambiguate returns base, or a deterministically suffixed variant
// when base collides with a taken name: " Jr." first, then " the 3rd",
// " the 4th" and so on.
func Disambiguate(base string, taken []string) string {
	name := base
	for i := 1; nameTaken(taken, name); i++ {
		if i == 1 {
			name = base + " Jr."
		} else {
			name = fmt.Sprintf("%s the %s", base, ordinal(i+1))
		}
	}
	return name
}

func nameTaken(taken []string, name string) bool {
	for _, t := range taken {
		if t == name {
			return true
		}
	}
	return false
}

func ordinal(n int) string {
	suffix := "th"
	switch {
	case n%100 >= 11 && n%100 <= 13:
	case n%10 == 1:
		suffix = "st"
	case n%10 == 2:
		suffix = "nd"
	case n%10 == 3:
		suffix = "rd"
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
