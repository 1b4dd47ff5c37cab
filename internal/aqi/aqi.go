// Package aqi maps PM2.5 concentrations onto the EPA Air Quality Index.
//
// The index here is computed from a single (averaged) reading. The EPA
// definition uses a 24-hour concentration average, so values reported by
// short-window sampling run higher than official figures.
package aqi

import "math"

// Category is an EPA AQI category label.
type Category int

const (
	Undefined Category = iota
	Good
	Moderate
	UnhealthySensitive
	Unhealthy
	VeryUnhealthy
	Hazardous
)

var categoryNames = map[Category]string{
	Undefined:          "Undefined",
	Good:               "Good",
	Moderate:           "Moderate",
	UnhealthySensitive: "Unhealthy for Sensitive Groups",
	Unhealthy:          "Unhealthy",
	VeryUnhealthy:      "Very Unhealthy",
	Hazardous:          "Hazardous",
}

func (c Category) String() string {
	if s, ok := categoryNames[c]; ok {
		return s
	}
	return categoryNames[Undefined]
}

// Invalid is the index reported for concentrations outside the breakpoint table.
const Invalid = -1

// Result is an immutable (index, category) pair. Value is Invalid iff
// Category is Undefined.
type Result struct {
	Value    int
	Category Category
}

// Valid reports whether the concentration fell inside the breakpoint table.
func (r Result) Valid() bool { return r.Category != Undefined }

// band is one EPA breakpoint row. CLow/CHigh bound the input inclusively;
// the interpolation runs over the integer concentration range [ILoC, IHiC].
type band struct {
	CLow, CHigh float64
	ILoC, IHiC  float64
	ILow, IHigh float64
	Category    Category
}

var bands = []band{
	{0.0, 12.0, 0, 12, 0, 50, Good},
	{12.1, 35.4, 12, 35, 51, 100, Moderate},
	{35.5, 55.4, 36, 55, 101, 150, UnhealthySensitive},
	{55.5, 150.4, 56, 150, 151, 200, Unhealthy},
	{150.5, 250.4, 151, 250, 201, 300, VeryUnhealthy},
	{250.5, 350.4, 251, 350, 301, 400, Hazardous},
	{350.5, 500.4, 351, 500, 401, 500, Hazardous},
}

// Calculate classifies a PM2.5 concentration (µg/m³) and interpolates its index.
// Out-of-range input, including negative sentinels and NaN, yields
// Result{Invalid, Undefined}; it is never an error.
func Calculate(reading float64) Result {
	if math.IsNaN(reading) {
		return Result{Value: Invalid, Category: Undefined}
	}
	for i, b := range bands {
		if reading >= b.CLow && reading <= b.CHigh {
			return Result{Value: b.interpolate(reading), Category: b.Category}
		}
		// 12.05, 35.45, ... sit between two one-decimal EPA rows and belong
		// to the lower one. The last row has no upper neighbour.
		if i+1 < len(bands) && reading > b.CHigh && reading < bands[i+1].CLow {
			return Result{Value: b.interpolate(reading), Category: b.Category}
		}
	}
	return Result{Value: Invalid, Category: Undefined}
}

func (b band) interpolate(reading float64) int {
	c := math.Trunc(reading)
	v := (b.IHigh-b.ILow)*(c-b.ILoC)/(b.IHiC-b.ILoC) + b.ILow
	v = math.Floor(v)
	// Truncating 35.5..35.9 to 35 sits below the band's integer floor.
	return int(math.Max(b.ILow, math.Min(b.IHigh, v)))
}
