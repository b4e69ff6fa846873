package audio

import "encoding/binary"

const (
	mulawBias = 0x84

	quietPeak    = 1000
	maxQuietGain = 10.0
)

// DecodeMulaw expands G.711 mu-law bytes into linear 16-bit samples.
func DecodeMulaw(ulaw []byte) []int16 {
	out := make([]int16, len(ulaw))
	for i, b := range ulaw {
		out[i] = mulawToLinear(b)
	}
	return out
}

func mulawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	sample := ((int(mantissa) << 3) + mulawBias) << exponent
	sample -= mulawBias
	if sign != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

// BoostQuiet amplifies samples in place when the peak amplitude is below
// the audible floor. The gain is capped at 10x. It returns the applied factor.
func BoostQuiet(samples []int16) float64 {
	peak := 0
	for _, s := range samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	if peak == 0 || peak >= quietPeak {
		return 1
	}
	factor := float64(quietPeak) / float64(peak)
	if factor > maxQuietGain {
		factor = maxQuietGain
	}
	for i, s := range samples {
		v := float64(s) * factor
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		samples[i] = int16(v)
	}
	return factor
}

// PCM16LE serializes samples as little-endian 16-bit PCM.
func PCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
