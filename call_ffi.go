/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-16
 *
 * Call FFI Exports
 * 通话控制相关的 C 导出函数
 * 信令由宿主转发：出站通过 EventTypeSignal 回调，入站通过 CallHandleSignal 注入
 */
package main

/*
#include <stdlib.h>
#include <stdint.h>
*/
import "C"

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/maiguangyang/call_core/pkg/call"
	"github.com/maiguangyang/call_core/pkg/config"
	"github.com/maiguangyang/call_core/pkg/media"
	"github.com/maiguangyang/call_core/pkg/signaling"
	"github.com/maiguangyang/call_core/pkg/transport"
	"github.com/maiguangyang/call_core/pkg/utils"
)

// 单个操作最长等待时间
const actionTimeout = 10 * time.Second

// 返回码
const (
	resultOK       = 0
	resultNotFound = -1
	resultFailed   = -2
)

// ==========================================
// 实例创建与销毁
// ==========================================

// CallCreate 创建通话实例
// configJSON: {"chatSessionId","userId","iceServers",...}，缺省字段使用默认值
//
//export CallCreate
func CallCreate(configJSON *C.char) C.int {
	cfg, err := config.FromJSON([]byte(C.GoString(configJSON)))
	if err != nil {
		utils.Error("CallCreate: %v", err)
		return C.int(resultFailed)
	}
	utils.SetLevel(cfg.LogLevel)

	api, err := transport.NewAPI(cfg.TransportConfig())
	if err != nil {
		utils.Error("CallCreate: building transport api: %v", err)
		return C.int(resultFailed)
	}

	roomID := cfg.ChatSessionID
	bridge := signaling.NewBridge(func(msg signaling.Message, envelope []byte) error {
		emitEvent(EventTypeSignal, roomID, msg.Head().From, string(envelope))
		return nil
	})

	opts := cfg.CallOptions()
	opts.Signaler = bridge
	opts.NewTransport = call.PeerFactory(api, webrtc.Configuration{ICEServers: cfg.ICEServers}, cfg.ScreenIdleTimeout)
	opts.MediaSource = newMediaSource()

	ctrl, err := call.NewController(opts)
	if err != nil {
		bridge.Close()
		utils.Error("CallCreate: %v", err)
		return C.int(resultFailed)
	}

	ctrl.SetOnStateChange(func(s call.State) {
		emitEvent(EventTypeStateChanged, roomID, "", s.ToJSON())
	})
	ctrl.SetOnError(func(e *call.CallError) {
		data, _ := json.Marshal(e)
		emitEvent(EventTypeError, roomID, "", string(data))
	})
	ctrl.SetOnCallEnded(func(s call.Summary) {
		emitEvent(EventTypeCallEnded, roomID, s.InitiatorID, s.ToJSON())
	})

	registerCall(roomID, &callInstance{ctrl: ctrl, bridge: bridge})
	utils.Info("Call instance created: %s (user %s)", roomID, cfg.LocalUserID)
	return C.int(resultOK)
}

// newMediaSource 优先使用设备采集，不可用时退回合成音频
func newMediaSource() media.Source {
	src, err := media.NewDeviceSource()
	if err != nil {
		utils.Warn("Device capture unavailable, using synthetic media: %v", err)
		return media.NewSyntheticSource()
	}
	return src
}

// CallDestroy 销毁通话实例（挂断并释放所有设备）
//
//export CallDestroy
func CallDestroy(roomID *C.char) C.int {
	goRoomID := C.GoString(roomID)
	if !unregisterCall(goRoomID) {
		return C.int(resultNotFound)
	}
	utils.Info("Call instance destroyed: %s", goRoomID)
	return C.int(resultOK)
}

// ==========================================
// 通话操作
// ==========================================

// runAction 执行一个阻塞操作并转换为返回码
func runAction(roomID *C.char, name string, fn func(ctx context.Context, c *call.Controller) error) C.int {
	goRoomID := C.GoString(roomID)
	inst := getCall(goRoomID)
	if inst == nil {
		return C.int(resultNotFound)
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	if err := fn(ctx, inst.ctrl); err != nil {
		var ce *call.CallError
		if !errors.As(err, &ce) {
			// CallError 已经通过 EventTypeError 上报
			utils.Warn("%s failed for %s: %v", name, goRoomID, err)
		}
		return C.int(resultFailed)
	}
	return C.int(resultOK)
}

//export CallStart
func CallStart(roomID *C.char) C.int {
	return runAction(roomID, "CallStart", func(ctx context.Context, c *call.Controller) error {
		return c.StartCall(ctx)
	})
}

//export CallAccept
func CallAccept(roomID *C.char) C.int {
	return runAction(roomID, "CallAccept", func(ctx context.Context, c *call.Controller) error {
		return c.AcceptCall(ctx)
	})
}

//export CallReject
func CallReject(roomID *C.char) C.int {
	return runAction(roomID, "CallReject", func(ctx context.Context, c *call.Controller) error {
		return c.RejectCall(ctx)
	})
}

//export CallEnd
func CallEnd(roomID *C.char) C.int {
	return runAction(roomID, "CallEnd", func(ctx context.Context, c *call.Controller) error {
		return c.EndCall(ctx)
	})
}

//export CallStartScreenShare
func CallStartScreenShare(roomID *C.char) C.int {
	return runAction(roomID, "CallStartScreenShare", func(ctx context.Context, c *call.Controller) error {
		return c.StartScreenShare(ctx)
	})
}

//export CallStopScreenShare
func CallStopScreenShare(roomID *C.char) C.int {
	return runAction(roomID, "CallStopScreenShare", func(ctx context.Context, c *call.Controller) error {
		return c.StopScreenShare(ctx)
	})
}

//export CallToggleMinimize
func CallToggleMinimize(roomID *C.char) C.int {
	return runAction(roomID, "CallToggleMinimize", func(ctx context.Context, c *call.Controller) error {
		return c.ToggleCallMinimize(ctx)
	})
}

//export CallToggleMute
func CallToggleMute(roomID *C.char) C.int {
	return runAction(roomID, "CallToggleMute", func(ctx context.Context, c *call.Controller) error {
		return c.ToggleMute(ctx)
	})
}

// ==========================================
// 信令注入
// ==========================================

// CallHandleSignal 宿主收到的信令信封 {"event","data"}
//
//export CallHandleSignal
func CallHandleSignal(roomID *C.char, envelopeJSON *C.char) C.int {
	goRoomID := C.GoString(roomID)
	inst := getCall(goRoomID)
	if inst == nil {
		return C.int(resultNotFound)
	}
	if err := inst.bridge.Deliver([]byte(C.GoString(envelopeJSON))); err != nil {
		utils.Warn("CallHandleSignal: dropping message for %s: %v", goRoomID, err)
		return C.int(resultFailed)
	}
	return C.int(resultOK)
}

// CallSetSignalingConnected 宿主报告信令链路状态
//
//export CallSetSignalingConnected
func CallSetSignalingConnected(roomID *C.char, connected C.int) C.int {
	inst := getCall(C.GoString(roomID))
	if inst == nil {
		return C.int(resultNotFound)
	}
	inst.bridge.SetConnected(connected != 0)
	return C.int(resultOK)
}

// ==========================================
// 状态查询
// ==========================================

// CallGetState 返回当前状态 JSON，调用方负责 FreeString
//
//export CallGetState
func CallGetState(roomID *C.char) *C.char {
	inst := getCall(C.GoString(roomID))
	if inst == nil {
		return nil
	}
	return C.CString(inst.ctrl.State().ToJSON())
}

// CallGetStats 返回当前通话的流量统计 JSON，没有通话时返回 NULL
//
//export CallGetStats
func CallGetStats(roomID *C.char) *C.char {
	inst := getCall(C.GoString(roomID))
	if inst == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	snap, err := inst.ctrl.Stats(ctx)
	if err != nil {
		return nil
	}
	return C.CString(snap.ToJSON())
}
