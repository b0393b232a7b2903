package models

import "syscall"

// EngineError is the last error reported by the backup engine.
// An empty Message means no error was recorded.
type EngineError struct {
	Code    int
	Message string
}

// Empty reports whether no error has been recorded.
func (e EngineError) Empty() bool {
	return e.Message == ""
}

// Strerror returns the platform description of Code.
func (e EngineError) Strerror() string {
	return syscall.Errno(e.Code).Error()
}

// Error implements the error interface.
func (e EngineError) Error() string {
	return e.Message
}

// EngineErrorReport is the serialized shape of an EngineError.
type EngineErrorReport struct {
	Message  string `json:"message"`
	Errno    int    `json:"errno"`
	Strerror string `json:"strerror"`
}

// Report converts the error to its serialized shape.
func (e EngineError) Report() EngineErrorReport {
	return EngineErrorReport{
		Message:  e.Message,
		Errno:    e.Code,
		Strerror: e.Strerror(),
	}
}
