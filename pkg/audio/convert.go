package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// FormatConverter converts raw PCM chunks of a known source format into
// 16-bit mono at the target rate. It logs a warning on the first conversion
// so a misconfigured device shows up once in the logs.
// Create one per stream; not designed for shared use across goroutines.
type FormatConverter struct {
	Source         Format
	TargetRate     int
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns pcm converted to mono at TargetRate. If the source already
// matches, pcm is returned unchanged.
func (c *FormatConverter) Convert(pcm []byte) []byte {
	channels := max(c.Source.Channels, 1)
	if len(pcm)%(bytesPerSample*channels) != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio: misaligned PCM chunk, dropping",
				"bytes", len(pcm),
				"channels", channels,
			)
		})
		return nil
	}
	if channels == 1 && c.Source.SampleRate == c.TargetRate {
		return pcm
	}

	c.warnedMismatch.Do(func() {
		slog.Info("audio: converting capture format",
			"from", formatString(c.Source.SampleRate, channels),
			"to", formatString(c.TargetRate, 1),
		)
	})

	if channels == 2 {
		pcm = StereoToMono(pcm)
	} else if channels > 2 {
		pcm = DownmixToMono(pcm, channels)
	}
	return ResampleMono16(pcm, c.Source.SampleRate, c.TargetRate)
}

// PCMToFloat32 converts 16-bit signed little-endian PCM to float32 samples in
// [-1.0, 1.0]. A trailing odd byte is ignored.
func PCMToFloat32(pcm []byte) []float32 {
	n := len(pcm) / bytesPerSample
	samples := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(s) / 32768.0
	}
	return samples
}

// Int16ToPCM encodes samples as little-endian bytes.
func Int16ToPCM(samples []int16) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
func StereoToMono(pcm []byte) []byte {
	return DownmixToMono(pcm, 2)
}

// DownmixToMono averages all interleaved channels of 16-bit PCM into one.
func DownmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := channels * bytesPerSample
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*bytesPerSample)
	for i := range frames {
		var sum int32
		for ch := range channels {
			off := i*frameBytes + ch*bytesPerSample
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16(sum/int32(channels))))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(binary.LittleEndian.Uint16(pcm[srcIdx*2:]))
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(binary.LittleEndian.Uint16(pcm[(srcIdx+1)*2:]))
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// formatString returns e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
