// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package status defines the uniform result code returned by every
// fallible observer, collector and daemon operation.
package status

import "fmt"

// Kind is a closed set of result codes shared by every fallible call in
// the collector engine. The numeric value of each kind is part of the
// control protocol: the poll transaction reports a worker's state as the
// decimal code of RUNNING or STOPPED.
type Kind int

const (
	OK Kind = iota
	FileError
	InvalidParameter
	IncompatibleParameter
	ConfigurationError
	RegisterIOError
	NotImplemented
	MemberAbsent
	ResourceBusy
	NotFound
	LoggerCannotOpen
	LoggerCannotInsert
	NotReady
	AccessDenied
	Running
	Stopped
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "OK"
	case FileError:
		return "FILE_ERROR"
	case InvalidParameter:
		return "INVALID_PARAMETER"
	case IncompatibleParameter:
		return "INCOMPATIBLE_PARAMETER"
	case ConfigurationError:
		return "CONFIGURATION_ERROR"
	case RegisterIOError:
		return "REGISTER_IO_ERROR"
	case NotImplemented:
		return "NOT_IMPLEMENTED"
	case MemberAbsent:
		return "MEMBER_ABSENT"
	case ResourceBusy:
		return "RESOURCE_BUSY"
	case NotFound:
		return "NOT_FOUND"
	case LoggerCannotOpen:
		return "LOGGER_CANNOT_OPEN"
	case LoggerCannotInsert:
		return "LOGGER_CANNOT_INSERT"
	case NotReady:
		return "NOT_READY"
	case AccessDenied:
		return "ACCESS_DENIED"
	case Running:
		return "RUNNING"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Status is the (code, message) pair returned by every fallible operation
// in the collector engine. The zero value is OK with an empty message.
type Status struct {
	Code    Kind
	Message string
}

// OKStatus is the canonical success status.
var OKStatus = Status{Code: OK}

// New builds a Status carrying a human-readable message.
func New(code Kind, message string) Status {
	return Status{Code: code, Message: message}
}

// Newf builds a Status with a formatted message.
func Newf(code Kind, format string, args ...any) Status {
	return Status{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Ok reports whether the status represents success.
func (s Status) Ok() bool {
	return s.Code == OK
}

// Error implements the error interface so a Status can be returned
// wherever Go code expects an error. The text is the code name, followed
// by ": " and the message when there is one, so an OK status with no
// message stringifies to "OK".
func (s Status) Error() string {
	if s.Message == "" {
		return s.Code.String()
	}
	return s.Code.String() + ": " + s.Message
}

// AsError returns nil for an OK status and the status itself otherwise,
// letting call sites fold Status into ordinary Go error handling.
func (s Status) AsError() error {
	if s.Ok() {
		return nil
	}
	return s
}
