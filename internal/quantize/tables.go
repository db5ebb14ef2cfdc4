package quantize

import "math"

// Crockpot mode codes.
const (
	CrockpotOff  = 0
	CrockpotWarm = 50
	CrockpotLow  = 51
	CrockpotHigh = 52
)

// CrockpotMode maps a 0-100 rotation speed to a cooking mode.
var CrockpotMode = Table{
	Name: "crockpot_mode",
	Min:  0,
	Max:  100,
	Buckets: []Bucket{
		{Upper: 25, Inclusive: true, Code: CrockpotOff, Value: 0},
		{Upper: 50, Inclusive: true, Code: CrockpotWarm, Value: 33},
		{Upper: 75, Inclusive: true, Code: CrockpotLow, Value: 66},
		{Upper: 100, Inclusive: true, Code: CrockpotHigh, Value: 99},
	},
}

// HumidifierFan maps a 0-100 rotation speed to fan modes 0 (off) to 5 (max).
var HumidifierFan = Table{
	Name: "humidifier_fan",
	Min:  0,
	Max:  100,
	Buckets: []Bucket{
		{Upper: 10, Inclusive: true, Code: 0, Value: 0},
		{Upper: 30, Inclusive: true, Code: 1, Value: 20},
		{Upper: 50, Inclusive: true, Code: 2, Value: 40},
		{Upper: 70, Inclusive: true, Code: 3, Value: 60},
		{Upper: 90, Inclusive: true, Code: 4, Value: 80},
		{Upper: 100, Inclusive: true, Code: 5, Value: 100},
	},
}

// HumidifierTarget maps a target relative humidity to the device's five
// humidity settings. Lower edges are inclusive on this device.
var HumidifierTarget = Table{
	Name: "humidifier_target",
	Min:  0,
	Max:  100,
	Buckets: []Bucket{
		{Upper: 47, Code: 0, Value: 45},
		{Upper: 52, Code: 1, Value: 50},
		{Upper: 57, Code: 2, Value: 55},
		{Upper: 80, Code: 3, Value: 60},
		{Upper: 100, Inclusive: true, Code: 4, Value: 100},
	},
}

// MaxCookHours is the longest cooking time the crockpot accepts.
const MaxCookHours = 23.5

// CookMinutes converts a requested cooking time in hours to device minutes.
// A request for the full 24h range clamps to MaxCookHours.
func CookMinutes(hours float64) int {
	if hours > MaxCookHours {
		hours = MaxCookHours
	}
	if hours < 0 {
		hours = 0
	}
	return int(math.Round(hours * 60))
}

// CookHours converts remaining minutes to half-hour units. Any remaining
// time rounds up to at least half an hour since the device is still cooking.
func CookHours(minutes int) float64 {
	if minutes <= 0 {
		return 0
	}
	return math.Max(math.Round(float64(minutes)/30)/2, 0.5)
}

// LevelToPercent converts a 0-255 hub brightness level to 0-100.
func LevelToPercent(level int) float64 {
	if level <= 0 {
		return 0
	}
	if level >= 255 {
		return 100
	}
	return math.Round(float64(level) * 100 / 255)
}

// PercentToLevel converts a 0-100 brightness to a 0-255 hub level.
func PercentToLevel(percent float64) int {
	if percent <= 0 {
		return 0
	}
	if percent >= 100 {
		return 255
	}
	return int(math.Round(percent * 255 / 100))
}
