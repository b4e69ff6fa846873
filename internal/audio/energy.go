package audio

import "math"

const (
	// MulawMidpoint is the companding midpoint treated as zero amplitude.
	MulawMidpoint = 127

	activeDeviation = 10

	DefaultMinEnergyThreshold   = 100.0
	DefaultMinNonSilencePercent = 25.0

	toneBand          = 1.0
	toneActivePercent = 99.0
)

// Classification is the energy verdict for one frame.
type Classification struct {
	HasEnergy         bool
	EnergyLevel       float64
	NonSilencePercent float64
	SuspectedTone     bool
}

// EnergyDetector classifies raw mu-law frames as speech-bearing or silence.
// It holds only thresholds and is safe for concurrent use.
type EnergyDetector struct {
	MinEnergyThreshold   float64
	MinNonSilencePercent float64
}

func NewEnergyDetector(minEnergyThreshold, minNonSilencePercent float64) EnergyDetector {
	if minEnergyThreshold <= 0 {
		minEnergyThreshold = DefaultMinEnergyThreshold
	}
	if minNonSilencePercent <= 0 {
		minNonSilencePercent = DefaultMinNonSilencePercent
	}
	return EnergyDetector{
		MinEnergyThreshold:   minEnergyThreshold,
		MinNonSilencePercent: minNonSilencePercent,
	}
}

// Classify computes the RMS deviation of active samples and the share of
// active samples in frame. A frame needs both a high enough share and a high
// enough RMS to count as speech; flat plateaus near the midpoint are rejected.
func (d EnergyDetector) Classify(frame []byte) Classification {
	if len(frame) == 0 {
		return Classification{}
	}

	var sumSquares int64
	active := 0
	for _, b := range frame {
		dev := int(b) - MulawMidpoint
		if dev < 0 {
			dev = -dev
		}
		if dev > activeDeviation {
			sumSquares += int64(dev * dev)
			active++
		}
	}
	if active == 0 {
		return Classification{}
	}

	c := Classification{
		EnergyLevel:       math.Sqrt(float64(sumSquares) / float64(active)),
		NonSilencePercent: float64(active) / float64(len(frame)) * 100,
	}
	c.SuspectedTone = isFlatPlateau(c.EnergyLevel, c.NonSilencePercent)
	c.HasEnergy = !c.SuspectedTone &&
		c.NonSilencePercent >= d.MinNonSilencePercent &&
		c.EnergyLevel > d.MinEnergyThreshold
	return c
}

// isFlatPlateau matches frames such as runs of 0x00 or 0xFF where nearly every
// sample deviates by exactly 127 or 128.
func isFlatPlateau(rms, activePercent float64) bool {
	if activePercent < toneActivePercent {
		return false
	}
	return math.Abs(rms-MulawMidpoint) < toneBand || math.Abs(rms-(MulawMidpoint+1)) < toneBand
}
