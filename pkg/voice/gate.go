package voice

import (
	"sync"
	"sync/atomic"
)

// micGate mutes the microphone while held. The flow holds it during
// playback when interruptions are disabled.
type micGate struct {
	holds atomic.Int32
}

// hold mutes the mic until the returned release is called. Holds nest;
// releasing twice is a no-op.
func (g *micGate) hold() (release func()) {
	g.holds.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { g.holds.Add(-1) })
	}
}

// open reports whether mic frames may pass.
func (g *micGate) open() bool {
	return g.holds.Load() == 0
}
