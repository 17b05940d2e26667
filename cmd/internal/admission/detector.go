package admission

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
)

// Detector flags anomalous messages. Implementations must be safe for
// concurrent use; they run on the admission hot path.
type Detector interface {
	// Anomalous reports whether the message is hostile. identity is the
	// token-authenticated peer identity.
	Anomalous(identity string, msg Message) bool
}

// HoneypotDetector keeps a set of decoy tokens. Presenting a decoy is
// proof of theft: decoys are never issued, only planted. Each trip plants
// another decoy, so a probing attacker inflates the trap instead of
// mapping it.
type HoneypotDetector struct {
	mu     sync.RWMutex
	decoys map[string]struct{}
}

// NewHoneypotDetector seeds the trap with n decoys.
func NewHoneypotDetector(n int) *HoneypotDetector {
	d := &HoneypotDetector{decoys: make(map[string]struct{}, n)}
	for i := 0; i < n; i++ {
		d.plant()
	}
	return d
}

// Anomalous checks the presented token against the decoy set and grows the
// set on a hit.
func (d *HoneypotDetector) Anomalous(_ string, msg Message) bool {
	d.mu.RLock()
	_, hit := d.decoys[msg.Token]
	d.mu.RUnlock()

	if hit {
		d.plant()
	}
	return hit
}

// Decoys returns a copy of the current decoy set, for planting into
// reachable-but-unused surfaces.
func (d *HoneypotDetector) Decoys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.decoys))
	for t := range d.decoys {
		out = append(out, t)
	}
	return out
}

// Size returns the current decoy count.
func (d *HoneypotDetector) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.decoys)
}

func (d *HoneypotDetector) plant() {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return
	}
	t := base64.RawURLEncoding.EncodeToString(buf)

	d.mu.Lock()
	d.decoys[t] = struct{}{}
	d.mu.Unlock()
}

// nopDetector admits everything.
type nopDetector struct{}

func (nopDetector) Anomalous(string, Message) bool { return false }

// NopDetector returns a detector that never flags anything.
func NopDetector() Detector { return nopDetector{} }
