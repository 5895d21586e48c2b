// Package detect implements the per-sensor risk scorer, spatial fusion and
// the detection run orchestrator.
package detect

import (
	"github.com/akilada/openlews/internal/model"
)

// Component weights. They sum to 1 so the weighted sum stays in [0,1]
// before rainfall amplification.
const (
	weightMoisture     = 0.35
	weightTiltVelocity = 0.25
	weightVibration    = 0.15
	weightPorePressure = 0.15
	weightSafetyFactor = 0.10
)

// ScorerConfig carries the two knobs the scorer honours. Everything else is
// fixed breakpoints.
type ScorerConfig struct {
	// SFZeroIsCritical flips the interpretation of safety_factor == 0 from
	// "sensor could not compute" to "slope already failed".
	SFZeroIsCritical bool
}

// ramp linearly interpolates x across ascending breakpoints, clamping at
// both ends.
func ramp(x float64, xs, ys []float64) float64 {
	if x <= xs[0] {
		return ys[0]
	}
	last := len(xs) - 1
	if x >= xs[last] {
		return ys[last]
	}
	for i := 1; i <= last; i++ {
		if x <= xs[i] {
			t := (x - xs[i-1]) / (xs[i] - xs[i-1])
			return ys[i-1] + t*(ys[i]-ys[i-1])
		}
	}
	return ys[last]
}

func moistureScore(moisture, critical float64) float64 {
	if critical <= 0 {
		critical = 40
	}
	return ramp(moisture, []float64{0.6 * critical, critical}, []float64{0, 1})
}

func tiltScore(rate float64) float64 {
	return ramp(rate, []float64{1, 5, 10}, []float64{0, 0.5, 1})
}

func vibrationScore(count, baseline float64) float64 {
	if baseline < 1 {
		baseline = 1
	}
	return ramp(count/baseline, []float64{2, 5, 10}, []float64{0, 0.5, 1})
}

func porePressureScore(kpa float64) float64 {
	return ramp(kpa, []float64{0, 5, 10}, []float64{0, 0.5, 1})
}

// safetyFactorScore decreases with sf: 1.0 at sf<=1.0, 0.5 at 1.2, 0 at >=1.5.
func safetyFactorScore(sf float64) float64 {
	return 1 - ramp(sf, []float64{1.0, 1.2, 1.5}, []float64{0, 0.5, 1})
}

func rainfallAmplifier(mm float64) float64 {
	switch {
	case mm >= 200:
		return 1.5
	case mm >= 150:
		return 1.3
	case mm >= 100:
		return 1.2
	case mm >= 75:
		return 1.1
	default:
		return 1.0
	}
}

// BaseRisk is the deterministic per-sensor score in [0,1]. Absent optional
// measurements contribute 0 to their component; the weights do not rescale.
func BaseRisk(r *model.Reading, criticalMoisture float64, cfg ScorerConfig) float64 {
	sum := weightMoisture * moistureScore(r.MoisturePercent, criticalMoisture)

	if r.TiltRateMMHr != nil {
		sum += weightTiltVelocity * tiltScore(*r.TiltRateMMHr)
	}
	if r.VibrationCount != nil {
		sum += weightVibration * vibrationScore(*r.VibrationCount, model.Float(r.VibrationBaseline, 1))
	}
	if r.PorePressureKPa != nil {
		sum += weightPorePressure * porePressureScore(*r.PorePressureKPa)
	}
	if r.SafetyFactor != nil {
		sf := *r.SafetyFactor
		switch {
		case sf == 0 && cfg.SFZeroIsCritical:
			sum += weightSafetyFactor
		case sf == 0:
			// treated as missing
		default:
			sum += weightSafetyFactor * safetyFactorScore(sf)
		}
	}

	sum *= rainfallAmplifier(model.Float(r.Rainfall24hMM, 0))

	if sum < 0 {
		return 0
	}
	if sum > 1 {
		return 1
	}
	return sum
}
