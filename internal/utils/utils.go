package utils

import (
	"strings"
	"time"

	"github.com/goombaio/namegenerator"
)

// GenerateDeviceName creates a random, memorable device name. Used the
// first time beacon runs on a device with no configured name; the result
// is persisted so submissions stay attributable to the same device.
func GenerateDeviceName() string {
	seed := time.Now().UTC().UnixNano()
	nameGenerator := namegenerator.NewNameGenerator(seed)

	// Generate a name like "wispy-dust"
	name := nameGenerator.Generate()

	// Some names might have underscores; convert to hyphens for consistency
	name = strings.ReplaceAll(name, "_", "-")

	return name
}

// FormatAge renders a duration since t as a short human label
func FormatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return time.Duration(d.Round(time.Minute)).String()
	case d < 24*time.Hour:
		return d.Round(time.Hour).String()
	default:
		return t.Format("2006-01-02")
	}
}
