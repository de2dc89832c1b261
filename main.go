/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Call Core - 一对一语音通话协商与生命周期控制
 * This is the main entry point for C-shared library exports.
 * All functions with //export comments are exposed to Dart FFI.
 *
 * 通话相关导出在 call_ffi.go
 */
package main

/*
#include <stdlib.h>
#include <stdint.h>

// Callback function types for events
typedef void (*EventCallback)(int eventType, const char* roomId, const char* peerId, const char* data);
typedef void (*LogCallback)(int level, const char* message);

// Store the callbacks
static EventCallback eventCallback = NULL;
static LogCallback logCallback = NULL;

// Setter functions
static void setEventCallback(EventCallback cb) {
    eventCallback = cb;
}

static void setLogCallback(LogCallback cb) {
    logCallback = cb;
}

// Caller functions (to be called from Go)
static void callEventCallback(int eventType, const char* roomId, const char* peerId, const char* data) {
    if (eventCallback != NULL) {
        eventCallback(eventType, roomId, peerId, data);
    }
}

static void callLogCallback(int level, const char* message) {
    if (logCallback != NULL) {
        logCallback(level, message);
    }
}
*/
import "C"

import (
	"unsafe"

	"github.com/maiguangyang/call_core/pkg/utils"
)

// Event types for callbacks
const (
	// 状态快照变化，data 为 State JSON
	EventTypeStateChanged = 1
	// 需要宿主转发的信令，data 为 {"event","data"} 信封
	EventTypeSignal = 2
	// 面向用户的错误，data 为 {"code","message"}
	EventTypeError = 3
	// 一次通话结束，data 为 Summary JSON
	EventTypeCallEnded = 4
)

// ==========================================
// Callback Registration
// ==========================================

//export SetEventCallback
func SetEventCallback(callback C.EventCallback) {
	C.setEventCallback(callback)
	utils.Info("Event callback registered")
}

//export SetLogCallback
func SetLogCallback(callback C.LogCallback) {
	C.setLogCallback(callback)

	// Also set the Go logger callback
	utils.SetCallback(func(level utils.LogLevel, message string) {
		cMessage := C.CString(message)
		// Do not free cMessage here; it must be freed by the Dart side to avoid Use-After-Free
		// in async callbacks.
		C.callLogCallback(C.int(level), cMessage)
	})

	utils.Info("Log callback registered")
}

//export SetLogLevel
func SetLogLevel(level C.int) {
	utils.SetLevel(utils.LogLevel(level))
}

//export SetLogFile
func SetLogFile(path *C.char, maxSizeMB C.int) C.int {
	if err := utils.SetLogFile(C.GoString(path), int(maxSizeMB)); err != nil {
		utils.Error("SetLogFile failed: %v", err)
		return C.int(-1)
	}
	return C.int(0)
}

// ==========================================
// Utility Functions
// ==========================================

//export FreeString
func FreeString(s *C.char) {
	C.free(unsafe.Pointer(s))
}

//export CleanupAll
func CleanupAll() {
	cleanupAllCalls()
	utils.GetLogger().Sync()
	utils.Info("All resources cleaned up")
}

//export GetVersion
func GetVersion() *C.char {
	return C.CString(Version)
}

// Version 库版本
const Version = "1.0.0-call"

// emitEvent sends an event through the callback
func emitEvent(eventType int, roomID, peerID, data string) {
	cRoomID := C.CString(roomID)
	cPeerID := C.CString(peerID)
	cData := C.CString(data)

	defer C.free(unsafe.Pointer(cRoomID))
	defer C.free(unsafe.Pointer(cPeerID))
	defer C.free(unsafe.Pointer(cData))

	C.callEventCallback(C.int(eventType), cRoomID, cPeerID, cData)
}

// main is required but not used for c-shared library
func main() {}
