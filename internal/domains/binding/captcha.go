package binding

import "sync"

// captchaGate is the per-device single-flight guard for provisioning work.
// TryAcquire is a key-level compare-and-set: only one caller per device id
// wins until Release.
type captchaGate struct {
	mu       sync.Mutex
	inflight map[string]bool
}

func newCaptchaGate() *captchaGate {
	return &captchaGate{inflight: make(map[string]bool)}
}

func (g *captchaGate) TryAcquire(deviceID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight[deviceID] {
		return false
	}
	g.inflight[deviceID] = true
	return true
}

func (g *captchaGate) Release(deviceID string) {
	g.mu.Lock()
	delete(g.inflight, deviceID)
	g.mu.Unlock()
}
