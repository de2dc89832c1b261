/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-15
 */
package call

import (
	"errors"
	"fmt"
)

var (
	// ErrCallInProgress indicates a call is active or still being torn down
	ErrCallInProgress = errors.New("call already in progress")

	// ErrNotRinging indicates there is no incoming call to answer
	ErrNotRinging = errors.New("no incoming call")

	// ErrNotConnected indicates the action needs a connected call
	ErrNotConnected = errors.New("call is not connected")

	// ErrNoCall indicates there is no call
	ErrNoCall = errors.New("no active call")

	// ErrSignalingUnavailable indicates the signaling channel is down
	ErrSignalingUnavailable = errors.New("signaling channel unavailable")

	// ErrClosed indicates the controller has been closed
	ErrClosed = errors.New("controller is closed")

	// ErrInvalidOptions indicates missing required options
	ErrInvalidOptions = errors.New("invalid controller options")
)

// ErrorCode 面向用户的错误码
type ErrorCode string

const (
	CodeMediaPermissionDenied ErrorCode = "MEDIA_PERMISSION_DENIED"
	CodeScreenCaptureFailed   ErrorCode = "SCREEN_CAPTURE_FAILED"
	CodeTransportFailed       ErrorCode = "TRANSPORT_FAILED"
	CodeNegotiationFailed     ErrorCode = "NEGOTIATION_FAILED"
	CodeSignalingUnavailable  ErrorCode = "SIGNALING_UNAVAILABLE"
)

// CallError is a user-facing call failure
type CallError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func newCallError(code ErrorCode, message string, err error) *CallError {
	return &CallError{Code: code, Message: message, Err: err}
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// HasCode reports whether err is a CallError with code
func HasCode(err error, code ErrorCode) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Code == code
}
