// Package voice moves 16-bit PCM between gizchat and the audio devices.
// Playback and capture run through external commands (aplay, ffplay, sox,
// arecord, ...) configured per context; Converter adapts sample rate and
// channel count between the device and the model.
package voice

import "fmt"

// Format describes 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Stereo     bool
}

var (
	// Mono16K is what live sessions expect from the microphone.
	Mono16K = Format{SampleRate: 16000}

	// Mono24K is what Gemini speech and live audio produce.
	Mono24K = Format{SampleRate: 24000}
)

func (f Format) channels() int {
	if f.Stereo {
		return 2
	}
	return 1
}

// frameBytes is the size of one sample frame across all channels.
func (f Format) frameBytes() int {
	return 2 * f.channels()
}

func (f Format) String() string {
	ch := "mono"
	if f.Stereo {
		ch = "stereo"
	}
	return fmt.Sprintf("%dHz %s s16le", f.SampleRate, ch)
}
