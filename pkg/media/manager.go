/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-13
 *
 * Media Resource Manager
 * 管理本地麦克风与屏幕共享流的获取与释放
 * 释放顺序：先 disable，再 stop，保证设备句柄不会比通话活得久
 */
package media

import (
	"sync"

	"github.com/maiguangyang/call_core/pkg/utils"
)

// Manager owns at most one microphone and one screen stream
type Manager struct {
	mu          sync.Mutex
	source      Source
	constraints AudioConstraints

	mic    *Stream
	screen *Stream
	muted  bool

	onScreenEnded func(streamID string, err error)
}

// NewManager creates a manager over source
func NewManager(source Source, constraints AudioConstraints) *Manager {
	return &Manager{
		source:      source,
		constraints: constraints,
	}
}

// SetOnScreenEnded sets the callback fired when a screen capture ends on
// its own. The stream is already released when it fires.
func (m *Manager) SetOnScreenEnded(fn func(streamID string, err error)) {
	m.mu.Lock()
	m.onScreenEnded = fn
	m.mu.Unlock()
}

// AcquireMicrophone opens the microphone, or returns the one already held
func (m *Manager) AcquireMicrophone() (*Stream, error) {
	m.mu.Lock()
	if m.mic != nil {
		s := m.mic
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	s, err := m.source.OpenMicrophone(m.constraints)
	if err != nil {
		utils.Warn("Microphone acquisition failed: %v", err)
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.mic = s
	for _, t := range s.Tracks() {
		t.SetEnabled(!m.muted)
	}
	utils.Debug("Microphone acquired: stream=%s", s.ID())
	return s, nil
}

// Microphone returns the held microphone stream or nil
func (m *Manager) Microphone() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mic
}

// AcquireScreen opens a display capture, or returns the one already held.
// A capture that ends before it is handed out yields ErrTrackStopped.
func (m *Manager) AcquireScreen() (*Stream, error) {
	m.mu.Lock()
	if m.screen != nil && !m.screen.ended() {
		s := m.screen
		m.mu.Unlock()
		return s, nil
	}
	stale := m.screen
	m.screen = nil
	m.mu.Unlock()
	if stale != nil {
		release(stale)
	}

	s, err := m.source.OpenScreen()
	if err != nil {
		utils.Warn("Screen capture failed: %v", err)
		return nil, err
	}

	// 已结束的采集在登记前回调会被忽略，登记后再检查一次
	for _, t := range s.Tracks() {
		t.OnEnded(func(err error) { m.screenEnded(s, err) })
	}
	m.mu.Lock()
	m.screen = s
	m.mu.Unlock()

	if s.ended() {
		m.mu.Lock()
		if m.screen == s {
			m.screen = nil
		}
		m.mu.Unlock()
		release(s)
		utils.Warn("Screen capture %s ended before use", s.ID())
		return nil, ErrTrackStopped
	}
	utils.Debug("Screen capture acquired: stream=%s", s.ID())
	return s, nil
}

// Screen returns the held screen stream or nil
func (m *Manager) Screen() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screen
}

// ReleaseScreen stops the screen stream, if any
func (m *Manager) ReleaseScreen() {
	m.mu.Lock()
	s := m.screen
	m.screen = nil
	m.mu.Unlock()

	if s != nil {
		release(s)
		utils.Debug("Screen capture released: stream=%s", s.ID())
	}
}

// SetMuted flips enabled on the microphone tracks. The flag is kept for a
// microphone acquired later.
func (m *Manager) SetMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = muted
	if m.mic == nil {
		return
	}
	for _, t := range m.mic.Tracks() {
		t.SetEnabled(!muted)
	}
}

// ToggleMute inverts the mute flag and returns the new value
func (m *Manager) ToggleMute() bool {
	m.mu.Lock()
	muted := !m.muted
	m.mu.Unlock()
	m.SetMuted(muted)
	return muted
}

// Muted reports the mute flag
func (m *Manager) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// ReleaseAll stops every held track (screen first, then microphone) and
// returns them. Safe to call repeatedly.
func (m *Manager) ReleaseAll() []*LocalTrack {
	m.mu.Lock()
	screen, mic := m.screen, m.mic
	m.screen, m.mic = nil, nil
	m.muted = false
	m.mu.Unlock()

	var released []*LocalTrack
	for _, s := range []*Stream{screen, mic} {
		if s == nil {
			continue
		}
		release(s)
		released = append(released, s.Tracks()...)
	}
	if len(released) > 0 {
		utils.Debug("Released %d local track(s)", len(released))
	}
	return released
}

func (m *Manager) screenEnded(s *Stream, err error) {
	m.mu.Lock()
	if m.screen != s {
		// 已被主动释放或替换
		m.mu.Unlock()
		return
	}
	m.screen = nil
	fn := m.onScreenEnded
	m.mu.Unlock()

	release(s)
	utils.Info("Screen capture ended unexpectedly: stream=%s err=%v", s.ID(), err)
	if fn != nil {
		fn(s.ID(), err)
	}
}

func release(s *Stream) {
	for _, t := range s.Tracks() {
		t.SetEnabled(false)
	}
	s.Stop()
}
