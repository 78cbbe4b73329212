package protocol

import (
	"encoding/json"
	"fmt"
)

// ErrorInfo describes a failure reported by the service. It is immutable once
// constructed or decoded.
type ErrorInfo struct {
	message    string
	code       int
	statusCode int
}

// NewErrorInfo creates an ErrorInfo.
func NewErrorInfo(message string, code, statusCode int) *ErrorInfo {
	return &ErrorInfo{message: message, code: code, statusCode: statusCode}
}

// Message returns the human readable description.
func (e *ErrorInfo) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Code returns the service-defined error code.
func (e *ErrorInfo) Code() int {
	if e == nil {
		return 0
	}
	return e.code
}

// StatusCode returns the transport-style status code.
func (e *ErrorInfo) StatusCode() int {
	if e == nil {
		return 0
	}
	return e.statusCode
}

// Error implements the error interface.
func (e *ErrorInfo) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s (code=%d status=%d)", e.message, e.code, e.statusCode)
}

type wireErrorInfo struct {
	Message    string `json:"message,omitempty"`
	Code       int    `json:"code,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *ErrorInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireErrorInfo{
		Message:    e.message,
		Code:       e.code,
		StatusCode: e.statusCode,
	})
}

// UnmarshalJSON implements json.Unmarshaler. It is only meant to be used by
// the decoder on a freshly allocated value.
func (e *ErrorInfo) UnmarshalJSON(data []byte) error {
	var w wireErrorInfo
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = ErrorInfo{message: w.Message, code: w.Code, statusCode: w.StatusCode}
	return nil
}
