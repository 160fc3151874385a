package verdict

import "math"

// The Environment Canada wind chill index is only defined for cold, windy
// conditions; outside its domain the raw temperature is the feels-like value.
const (
	windChillMaxTempC   = 10.0
	windChillMinWindKmh = 4.8
	metersPerSecToKmh   = 3.6
	kelvinCelsiusOffset = 273.15
)

// KelvinToCelsius converts an upstream Kelvin value to Celsius. Exact; any
// rounding happens only at formatting time.
func KelvinToCelsius(k float64) float64 {
	return k - kelvinCelsiusOffset
}

// WindChill computes the feels-like temperature for tempC (Celsius) and
// windMS (m/s). Returns tempC unchanged when the index is not applicable
// (temperature above 10°C or wind below 4.8 km/h).
func WindChill(tempC, windMS float64) float64 {
	windKmh := windMS * metersPerSecToKmh
	if tempC > windChillMaxTempC || windKmh < windChillMinWindKmh {
		return tempC
	}
	v := math.Pow(windKmh, 0.16)
	return 13.12 + 0.6215*tempC - 11.37*v + 0.3965*tempC*v
}
