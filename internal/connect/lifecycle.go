package connect

import "sync"

// LifecycleObserver is implemented by components bound to the hosting UI.
type LifecycleObserver interface {
	OnLifecycleStop()
	OnLifecycleDestroy()
}

// RedirectMonitor holds the single callback waiting for the host app to come
// back to the foreground after a redirect.
type RedirectMonitor struct {
	mu       sync.Mutex
	onReturn func()
}

// Register installs onReturn. Registering while another callback is installed
// is a programming error and panics.
func (m *RedirectMonitor) Register(onReturn func()) {
	if onReturn == nil {
		panic("connect: nil redirect callback")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onReturn != nil {
		panic("connect: redirect monitor already registered")
	}
	m.onReturn = onReturn
}

// Unregister removes the callback. It is safe to call when none is installed.
func (m *RedirectMonitor) Unregister() {
	m.mu.Lock()
	m.onReturn = nil
	m.mu.Unlock()
}

// Registered reports whether a callback is installed.
func (m *RedirectMonitor) Registered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onReturn != nil
}

// Resumed consumes the callback and runs it. It reports whether one ran.
func (m *RedirectMonitor) Resumed() bool {
	m.mu.Lock()
	fn := m.onReturn
	m.onReturn = nil
	m.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}
