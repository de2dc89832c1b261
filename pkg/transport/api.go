/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-14
 *
 * WebRTC API 构建
 * MediaEngine + 默认拦截器（NACK / RTCP 报告）+ ICE 超时 + pion 日志桥接
 */
package transport

import (
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	piontransport "github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"

	"github.com/maiguangyang/call_core/pkg/utils"
)

// DefaultICEServers 公共 STUN 服务器
var DefaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
	{URLs: []string{"stun:stun1.l.google.com:19302"}},
}

// Config 传输层配置
type Config struct {
	ICEServers []webrtc.ICEServer

	// ICE 超时：断开判定 / 失败判定 / 保活间隔
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration

	// 替换系统网络（测试中使用 vnet）
	Net piontransport.Net
	// 为空表示全部网络类型
	NetworkTypes []webrtc.NetworkType

	// 为空时使用 utils 日志桥接
	LoggerFactory logging.LoggerFactory
}

// DefaultConfig returns STUN servers and relaxed ICE timeouts
func DefaultConfig() Config {
	return Config{
		ICEServers:          DefaultICEServers,
		DisconnectedTimeout: 30 * time.Second,
		FailedTimeout:       120 * time.Second,
		KeepAliveInterval:   2 * time.Second,
	}
}

// NewAPI builds a webrtc.API for cfg
func NewAPI(cfg Config) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	if cfg.DisconnectedTimeout > 0 && cfg.FailedTimeout > 0 {
		se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)
	}
	if cfg.Net != nil {
		se.SetNet(cfg.Net)
	}
	if len(cfg.NetworkTypes) > 0 {
		se.SetNetworkTypes(cfg.NetworkTypes)
	}
	if cfg.LoggerFactory != nil {
		se.LoggerFactory = cfg.LoggerFactory
	} else {
		se.LoggerFactory = utils.NewPionLoggerFactory(utils.LogLevelWarn)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	), nil
}
