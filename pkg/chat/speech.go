package chat

import (
	"sync"
	"time"
)

// DefaultSpeechDelay is the pause between the end of a reply and speech.
const DefaultSpeechDelay = 300 * time.Millisecond

// SpeechTrigger decides when a completed model turn is spoken. A nil
// *SpeechTrigger or one without a Speaker does nothing.
type SpeechTrigger struct {
	speaker Speaker
	delay   time.Duration

	mu    sync.Mutex
	rate  float64
	timer *time.Timer
}

// NewSpeechTrigger creates a trigger speaking through speaker at rate 1.
func NewSpeechTrigger(speaker Speaker, delay time.Duration) *SpeechTrigger {
	return &SpeechTrigger{speaker: speaker, delay: delay, rate: 1}
}

// SetRate sets the speech rate for future utterances.
func (st *SpeechTrigger) SetRate(rate float64) {
	if st == nil || rate <= 0 {
		return
	}
	st.mu.Lock()
	st.rate = rate
	st.mu.Unlock()
}

// Rate returns the speech rate.
func (st *SpeechTrigger) Rate() float64 {
	if st == nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.rate
}

// Schedule speaks text after the delay, replacing any pending utterance.
func (st *SpeechTrigger) Schedule(text string) {
	if st == nil || st.speaker == nil || text == "" {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.timer != nil {
		st.timer.Stop()
	}
	rate := st.rate
	var timer *time.Timer
	timer = time.AfterFunc(st.delay, func() {
		st.mu.Lock()
		if st.timer != timer {
			st.mu.Unlock()
			return
		}
		st.timer = nil
		st.mu.Unlock()
		st.speaker.Speak(text, rate)
	})
	st.timer = timer
}

// Pending reports whether an utterance is scheduled but not yet started.
func (st *SpeechTrigger) Pending() bool {
	if st == nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.timer != nil
}

// Cancel drops the pending utterance and stops playback.
func (st *SpeechTrigger) Cancel() {
	if st == nil || st.speaker == nil {
		return
	}
	st.mu.Lock()
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.mu.Unlock()
	st.speaker.Stop()
}
