/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Instance management for call controllers.
 * Uses sync.Map for thread-safe access from multiple goroutines.
 */
package main

import (
	"sync"

	"github.com/maiguangyang/call_core/pkg/call"
	"github.com/maiguangyang/call_core/pkg/signaling"
)

// callInstance 一个聊天会话的通话实例
type callInstance struct {
	ctrl   *call.Controller
	bridge *signaling.Bridge
}

func (i *callInstance) close() {
	i.ctrl.Close()
	i.bridge.Close()
}

var (
	// Call instances: chatSessionID -> *callInstance
	calls sync.Map
)

// registerCall registers the instance of a chat session
func registerCall(roomID string, inst *callInstance) {
	// Close existing instance if any
	if existing, ok := calls.LoadOrStore(roomID, inst); ok {
		existing.(*callInstance).close()
		calls.Store(roomID, inst)
	}
}

// getCall returns an instance by chat session ID
func getCall(roomID string) *callInstance {
	if v, ok := calls.Load(roomID); ok {
		return v.(*callInstance)
	}
	return nil
}

// unregisterCall removes and closes an instance
func unregisterCall(roomID string) bool {
	v, ok := calls.LoadAndDelete(roomID)
	if !ok {
		return false
	}
	v.(*callInstance).close()
	return true
}

// cleanupAllCalls closes all instances
func cleanupAllCalls() {
	calls.Range(func(key, value interface{}) bool {
		if inst, ok := value.(*callInstance); ok {
			inst.close()
		}
		calls.Delete(key)
		return true
	})
}
