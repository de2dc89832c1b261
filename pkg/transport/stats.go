/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-14
 *
 * Stats - 通话流量统计
 * 接收端 RTP 包数/字节数、按序号间隔估算的丢包、RTCP 反馈计数、接收码率
 */
package transport

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// TrafficStats 流量统计
type TrafficStats struct {
	mu sync.Mutex

	audioPacketsIn atomic.Uint64
	videoPacketsIn atomic.Uint64
	bytesIn        atomic.Uint64
	packetsLost    atomic.Uint64
	rtcpIn         atomic.Uint64

	// 码率计算
	lastCalcTime time.Time
	lastBytesIn  uint64
	bitrateIn    float64
}

// NewTrafficStats 创建流量统计
func NewTrafficStats() *TrafficStats {
	return &TrafficStats{lastCalcTime: time.Now()}
}

// AddPacketIn 记录一个接收的 RTP 包
func (s *TrafficStats) AddPacketIn(kind MediaKind, bytes int) {
	if kind == MediaAudio {
		s.audioPacketsIn.Add(1)
	} else {
		s.videoPacketsIn.Add(1)
	}
	s.bytesIn.Add(uint64(bytes))
}

// AddPacketsLost 记录序号间隔推算的丢包
func (s *TrafficStats) AddPacketsLost(n uint64) {
	s.packetsLost.Add(n)
}

// AddRTCPIn 记录一个 RTCP 反馈包
func (s *TrafficStats) AddRTCPIn() {
	s.rtcpIn.Add(1)
}

// CalculateBitrate 计算码率（建议每秒调用一次）
func (s *TrafficStats) CalculateBitrate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(s.lastCalcTime).Seconds()
	if elapsed < 0.1 {
		return
	}

	current := s.bytesIn.Load()
	s.bitrateIn = float64(current-s.lastBytesIn) * 8 / elapsed
	s.lastBytesIn = current
	s.lastCalcTime = now
}

// LossRate 丢包率
func (s *TrafficStats) LossRate() float64 {
	received := s.audioPacketsIn.Load() + s.videoPacketsIn.Load()
	lost := s.packetsLost.Load()
	if received+lost == 0 {
		return 0
	}
	return float64(lost) / float64(received+lost)
}

// Snapshot 获取当前快照
func (s *TrafficStats) Snapshot() TrafficStatsSnapshot {
	s.mu.Lock()
	bitrate := s.bitrateIn
	s.mu.Unlock()

	return TrafficStatsSnapshot{
		AudioPacketsIn: s.audioPacketsIn.Load(),
		VideoPacketsIn: s.videoPacketsIn.Load(),
		BytesIn:        s.bytesIn.Load(),
		PacketsLost:    s.packetsLost.Load(),
		RTCPPacketsIn:  s.rtcpIn.Load(),
		BitrateIn:      bitrate,
		LossRate:       s.LossRate(),
		Timestamp:      time.Now().Unix(),
	}
}

// TrafficStatsSnapshot 统计快照
type TrafficStatsSnapshot struct {
	AudioPacketsIn uint64  `json:"audio_packets_in"`
	VideoPacketsIn uint64  `json:"video_packets_in"`
	BytesIn        uint64  `json:"bytes_in"`
	PacketsLost    uint64  `json:"packets_lost"`
	RTCPPacketsIn  uint64  `json:"rtcp_packets_in"`
	BitrateIn      float64 `json:"bitrate_in_bps"`
	LossRate       float64 `json:"loss_rate"`
	Timestamp      int64   `json:"timestamp"`
}

// ToJSON 序列化为 JSON
func (s TrafficStatsSnapshot) ToJSON() string {
	data, _ := json.Marshal(s)
	return string(data)
}
