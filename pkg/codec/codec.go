// Package codec implements the audio transcoding primitives shared by every
// telephony adapter: μ-law companding, low-pass filtering, linear-interpolation
// resampling, and the two directional helpers that bridge telephony wire
// formats to the 16 kHz linear16 format the voice pipeline consumes.
//
// All operations are pure functions over byte buffers; none retain state
// across calls, so callers may use them concurrently without synchronization.
package codec

// Encoding identifies the sample encoding of a telephony audio buffer.
type Encoding string

const (
	EncodingLinear16 Encoding = "linear16"
	EncodingMulaw    Encoding = "mulaw"
)

// PipelineSampleRate is the fixed sample rate the voice pipeline consumes and
// produces, per spec: 16 kHz linear16 inbound, whatever the TTS provider
// natively produces outbound (resampled down to telephonyOutRate below).
const PipelineSampleRate = 16000

// TelephonyOutRate is the sample rate outbound audio is resampled to before
// μ-law encoding for the carrier.
const TelephonyOutRate = 8000

// mulawBias is added to the absolute sample value before exponent/mantissa
// extraction, per the standard G.711 μ-law companding algorithm.
const mulawBias = 0x84

// mulawClip is the largest magnitude representable before clamping.
const mulawClip = 0x1FFF

// mulawDecode converts a single μ-law byte to a linear16 sample.
func mulawDecode(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F

	sample := ((int32(mantissa) << 3) + mulawBias) << exponent
	sample -= mulawBias
	if sign != 0 {
		sample = -sample
	}
	return int16(sample)
}

// mulawEncode converts a single linear16 sample to a μ-law byte.
func mulawEncode(sample int16) byte {
	var sign byte
	s := int32(sample)
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := byte(7)
	for mask := int32(0x4000); mask&s == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(s>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// MulawToLinear decodes a buffer of μ-law bytes into little-endian int16 PCM.
// Output length is always 2x input length.
func MulawToLinear(mulaw []byte) []byte {
	out := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		s := mulawDecode(b)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// LinearToMulaw encodes little-endian int16 PCM into μ-law bytes. A trailing
// odd byte (incomplete sample) is discarded.
func LinearToMulaw(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n)
	for i := range n {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = mulawEncode(s)
	}
	return out
}

// lowPassWindow returns the moving-average window size for downsampling from
// inRate to outRate: min(ceil(2 * inRate/outRate), 11).
func lowPassWindow(inRate, outRate int) int {
	if outRate <= 0 {
		return 1
	}
	w := (2*inRate + outRate - 1) / outRate
	if w < 1 {
		w = 1
	}
	if w > 11 {
		w = 11
	}
	return w
}

// LowPassFilter applies a centered moving-average over window samples of
// little-endian int16 PCM. Edge samples use a shrunk window rather than
// wrapping or zero-padding. window=1 is the identity transform.
func LowPassFilter(pcm []byte, window int) []byte {
	if window <= 1 || len(pcm) < 2 {
		return pcm
	}
	n := len(pcm) / 2
	samples := make([]int32, n)
	for i := range n {
		samples[i] = int32(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
	}

	half := window / 2
	out := make([]byte, n*2)
	for i := range n {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half
		if hi >= n {
			hi = n - 1
		}
		var sum int64
		for j := lo; j <= hi; j++ {
			sum += int64(samples[j])
		}
		avg := int16(sum / int64(hi-lo+1))
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// Resample converts little-endian int16 mono PCM from inRate to outRate using
// linear interpolation. When downsampling, a low-pass filter is applied first
// to reduce aliasing. If inRate == outRate, the input is returned unchanged.
func Resample(pcm []byte, inRate, outRate int) []byte {
	if inRate <= 0 || outRate <= 0 || inRate == outRate || len(pcm) < 2 {
		return pcm
	}

	if outRate < inRate {
		pcm = LowPassFilter(pcm, lowPassWindow(inRate, outRate))
	}

	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(outRate) / int64(inRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(inRate) / float64(outRate)
	lastIdx := srcSamples - 1

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := srcPos - float64(idx)

		next := idx + 1
		if next > lastIdx {
			next = lastIdx
		}

		s0 := int16(pcm[idx*2]) | int16(pcm[idx*2+1])<<8
		s1 := int16(pcm[next*2]) | int16(pcm[next*2+1])<<8

		interp := float64(s0)*(1-frac) + float64(s1)*frac
		out[i*2] = byte(int16(clampInt16(interp)))
		out[i*2+1] = byte(int16(clampInt16(interp)) >> 8)
	}
	return out
}

func clampInt16(v float64) float64 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return v
}

// TelephonyToPipeline converts a telephony-format buffer (8 kHz μ-law or
// linear16 at any supported rate) into 16 kHz linear16 for the voice
// pipeline.
func TelephonyToPipeline(data []byte, encoding Encoding, inRate int) []byte {
	pcm := data
	if encoding == EncodingMulaw {
		pcm = MulawToLinear(data)
		inRate = 8000
	}
	return Resample(pcm, inRate, PipelineSampleRate)
}

// PipelineToTelephony converts a linear16 buffer at inRate into 8 kHz
// telephony format, optionally μ-law encoding the result.
func PipelineToTelephony(data []byte, inRate int, outEncoding Encoding) []byte {
	pcm := Resample(data, inRate, TelephonyOutRate)
	if outEncoding == EncodingMulaw {
		return LinearToMulaw(pcm)
	}
	return pcm
}

// DurationMs returns the playback duration, in milliseconds, of a linear16
// PCM buffer at the given sample rate.
func DurationMs(data []byte, rate int) float64 {
	if rate <= 0 {
		return 0
	}
	samples := len(data) / 2
	return float64(samples) / float64(rate) * 1000
}
