package core

// ClockSource selects the clock feeding the peripheral's timing dividers.
type ClockSource uint8

const (
	ClockSourceNone ClockSource = iota
	ClockSourceRefTick
	ClockSourceRTC
	ClockSourceXTAL
	ClockSourceAPB
)

// Highest usable SCL frequency per source. The peripheral cannot divide a
// source below 1/20th of its rate.
const (
	clkLimitRefTick = 1 * 1000 * 1000 / 20
	clkLimitRTC     = 20 * 1000 * 1000 / 20
	clkLimitXTAL    = 40 * 1000 * 1000 / 20
	clkLimitAPB     = 80 * 1000 * 1000 / 20
)

// Ordered slowest source first, so selection prefers the lowest-power
// source that still covers the requested bitrate.
var clockSources = []struct {
	src   ClockSource
	limit uint32
}{
	{ClockSourceRefTick, clkLimitRefTick},
	{ClockSourceRTC, clkLimitRTC},
	{ClockSourceXTAL, clkLimitXTAL},
	{ClockSourceAPB, clkLimitAPB},
}

// selectClockSource picks the slowest clock source whose limit covers the
// requested bitrate. Returns ClockSourceNone when no source qualifies.
func selectClockSource(bitrate uint32) ClockSource {
	for _, c := range clockSources {
		if bitrate <= c.limit {
			return c.src
		}
	}
	return ClockSourceNone
}

func (s ClockSource) String() string {
	switch s {
	case ClockSourceRefTick:
		return "REF_TICK"
	case ClockSourceRTC:
		return "RTC"
	case ClockSourceXTAL:
		return "XTAL"
	case ClockSourceAPB:
		return "APB"
	}
	return "none"
}
