package playback

import "github.com/jeffwalter-rum/vastclient/timesource"

// Mode selects how playback time advances.
type Mode string

const (
	// ModeReal follows the wall clock.
	ModeReal Mode = "real"
	// ModeHeadless runs on a virtual clock, scaled by a speed factor.
	ModeHeadless Mode = "headless"
	// ModeAuto resolves to real time; headless is always an explicit
	// choice in a library context.
	ModeAuto Mode = "auto"
)

// SourceForMode builds the time source a mode implies. Speed only applies
// to headless mode and must be positive.
func SourceForMode(mode Mode, speed float64) (timesource.Source, error) {
	if mode == ModeHeadless {
		return timesource.NewVirtual(speed)
	}
	return timesource.NewReal(), nil
}
