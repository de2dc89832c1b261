/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-16
 *
 * 配置加载
 * 示例程序读 INI 文件，FFI 创建时传 JSON；两者都覆盖在默认值之上
 */
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	ini "gopkg.in/ini.v1"

	"github.com/maiguangyang/call_core/pkg/call"
	"github.com/maiguangyang/call_core/pkg/media"
	"github.com/maiguangyang/call_core/pkg/signaling"
	"github.com/maiguangyang/call_core/pkg/transport"
	"github.com/maiguangyang/call_core/pkg/utils"
)

// Config 通话核心配置
type Config struct {
	ChatSessionID string
	LocalUserID   string

	// 通话计时
	CallTimeout  time.Duration
	ResetDelay   time.Duration
	TickInterval time.Duration

	Audio media.AudioConstraints

	// ICE
	ICEServers          []webrtc.ICEServer
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
	ScreenIdleTimeout   time.Duration

	// 信令
	SignalingURL string
	PingInterval time.Duration

	// 日志
	LogLevel     utils.LogLevel
	LogFile      string
	LogMaxSizeMB int
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	opts := call.DefaultOptions()
	tc := transport.DefaultConfig()
	ws := signaling.DefaultWSConfig()
	return &Config{
		CallTimeout:         opts.CallTimeout,
		ResetDelay:          opts.ResetDelay,
		TickInterval:        opts.TickInterval,
		Audio:               opts.Audio,
		ICEServers:          tc.ICEServers,
		DisconnectedTimeout: tc.DisconnectedTimeout,
		FailedTimeout:       tc.FailedTimeout,
		KeepAliveInterval:   tc.KeepAliveInterval,
		ScreenIdleTimeout:   transport.DefaultScreenIdleTimeout,
		PingInterval:        ws.PingInterval,
		LogLevel:            utils.LogLevelInfo,
		LogMaxSizeMB:        50,
	}
}

// Load reads an INI file over the defaults
//
//	[session]  chat_session_id, user_id
//	[call]     timeout_ms, reset_delay_ms, tick_interval_ms
//	[audio]    echo_cancellation, noise_suppression, auto_gain_control
//	[ice]      servers (comma separated), disconnected_timeout_ms, failed_timeout_ms, keepalive_interval_ms, screen_idle_timeout_ms
//	[signaling] url, ping_interval_ms
//	[log]      level, file, max_size_mb
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return FromINI(f)
}

// FromINI applies an already parsed INI file over the defaults
func FromINI(f *ini.File) (*Config, error) {
	c := DefaultConfig()

	sec := f.Section("session")
	c.ChatSessionID = sec.Key("chat_session_id").MustString(c.ChatSessionID)
	c.LocalUserID = sec.Key("user_id").MustString(c.LocalUserID)

	sec = f.Section("call")
	c.CallTimeout = msKey(sec, "timeout_ms", c.CallTimeout)
	c.ResetDelay = msKey(sec, "reset_delay_ms", c.ResetDelay)
	c.TickInterval = msKey(sec, "tick_interval_ms", c.TickInterval)

	sec = f.Section("audio")
	c.Audio.EchoCancellation = sec.Key("echo_cancellation").MustBool(c.Audio.EchoCancellation)
	c.Audio.NoiseSuppression = sec.Key("noise_suppression").MustBool(c.Audio.NoiseSuppression)
	c.Audio.AutoGainControl = sec.Key("auto_gain_control").MustBool(c.Audio.AutoGainControl)

	sec = f.Section("ice")
	if sec.HasKey("servers") {
		urls := sec.Key("servers").Strings(",")
		c.ICEServers = nil
		if len(urls) > 0 {
			c.ICEServers = []webrtc.ICEServer{{
				URLs:       urls,
				Username:   sec.Key("username").String(),
				Credential: sec.Key("credential").String(),
			}}
		}
	}
	c.DisconnectedTimeout = msKey(sec, "disconnected_timeout_ms", c.DisconnectedTimeout)
	c.FailedTimeout = msKey(sec, "failed_timeout_ms", c.FailedTimeout)
	c.KeepAliveInterval = msKey(sec, "keepalive_interval_ms", c.KeepAliveInterval)
	c.ScreenIdleTimeout = msKey(sec, "screen_idle_timeout_ms", c.ScreenIdleTimeout)

	sec = f.Section("signaling")
	c.SignalingURL = sec.Key("url").MustString(c.SignalingURL)
	c.PingInterval = msKey(sec, "ping_interval_ms", c.PingInterval)

	sec = f.Section("log")
	if sec.HasKey("level") {
		c.LogLevel = utils.ParseLevel(sec.Key("level").String())
	}
	c.LogFile = sec.Key("file").MustString(c.LogFile)
	c.LogMaxSizeMB = sec.Key("max_size_mb").MustInt(c.LogMaxSizeMB)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func msKey(sec *ini.Section, name string, def time.Duration) time.Duration {
	if !sec.HasKey(name) {
		return def
	}
	return time.Duration(sec.Key(name).MustInt64(int64(def/time.Millisecond))) * time.Millisecond
}

// jsonConfig FFI 传入的 JSON，缺省字段保持默认值
type jsonConfig struct {
	ChatSessionID       string              `json:"chatSessionId"`
	UserID              string              `json:"userId"`
	ICEServers          *[]webrtc.ICEServer `json:"iceServers,omitempty"`
	CallTimeoutMs       *int64              `json:"callTimeoutMs,omitempty"`
	ResetDelayMs        *int64              `json:"resetDelayMs,omitempty"`
	TickIntervalMs      *int64              `json:"tickIntervalMs,omitempty"`
	ScreenIdleTimeoutMs *int64              `json:"screenIdleTimeoutMs,omitempty"`
	EchoCancellation    *bool               `json:"echoCancellation,omitempty"`
	NoiseSuppression    *bool               `json:"noiseSuppression,omitempty"`
	AutoGainControl     *bool               `json:"autoGainControl,omitempty"`
	LogLevel            string              `json:"logLevel,omitempty"`
}

// FromJSON parses the FFI create payload over the defaults
func FromJSON(data []byte) (*Config, error) {
	var j jsonConfig
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse config json: %w", err)
	}

	c := DefaultConfig()
	c.ChatSessionID = j.ChatSessionID
	c.LocalUserID = j.UserID
	if j.ICEServers != nil {
		c.ICEServers = *j.ICEServers
	}
	setMs(&c.CallTimeout, j.CallTimeoutMs)
	setMs(&c.ResetDelay, j.ResetDelayMs)
	setMs(&c.TickInterval, j.TickIntervalMs)
	setMs(&c.ScreenIdleTimeout, j.ScreenIdleTimeoutMs)
	setBool(&c.Audio.EchoCancellation, j.EchoCancellation)
	setBool(&c.Audio.NoiseSuppression, j.NoiseSuppression)
	setBool(&c.Audio.AutoGainControl, j.AutoGainControl)
	if j.LogLevel != "" {
		c.LogLevel = utils.ParseLevel(j.LogLevel)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func setMs(dst *time.Duration, v *int64) {
	if v != nil {
		*dst = time.Duration(*v) * time.Millisecond
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// Validate checks the timing fields
func (c *Config) Validate() error {
	switch {
	case c.CallTimeout <= 0:
		return fmt.Errorf("config: call timeout must be positive")
	case c.ResetDelay <= 0:
		return fmt.Errorf("config: reset delay must be positive")
	case c.TickInterval <= 0:
		return fmt.Errorf("config: tick interval must be positive")
	}
	for _, s := range c.ICEServers {
		for _, u := range s.URLs {
			if !strings.HasPrefix(u, "stun:") && !strings.HasPrefix(u, "turn:") && !strings.HasPrefix(u, "turns:") {
				return fmt.Errorf("config: invalid ice server url %q", u)
			}
		}
	}
	return nil
}

// CallOptions returns controller options carrying the session and timing
// fields. Signaler, transport factory and media source are left to the
// caller.
func (c *Config) CallOptions() call.Options {
	opts := call.DefaultOptions()
	opts.ChatSessionID = c.ChatSessionID
	opts.LocalUserID = c.LocalUserID
	opts.Audio = c.Audio
	opts.CallTimeout = c.CallTimeout
	opts.ResetDelay = c.ResetDelay
	opts.TickInterval = c.TickInterval
	return opts
}

// TransportConfig returns the pion API settings
func (c *Config) TransportConfig() transport.Config {
	tc := transport.DefaultConfig()
	tc.ICEServers = c.ICEServers
	tc.DisconnectedTimeout = c.DisconnectedTimeout
	tc.FailedTimeout = c.FailedTimeout
	tc.KeepAliveInterval = c.KeepAliveInterval
	return tc
}

// WSConfig returns the websocket signaling settings
func (c *Config) WSConfig() signaling.WSConfig {
	ws := signaling.DefaultWSConfig()
	ws.URL = c.SignalingURL
	ws.RoomID = c.ChatSessionID
	ws.UserID = c.LocalUserID
	ws.PingInterval = c.PingInterval
	return ws
}

// ApplyLogging configures the global logger
func (c *Config) ApplyLogging() error {
	utils.SetLevel(c.LogLevel)
	if c.LogFile == "" {
		return nil
	}
	return utils.SetLogFile(c.LogFile, c.LogMaxSizeMB)
}
