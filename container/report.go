// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/cell/lib/codec"
	"golang.org/x/sys/unix"
)

// request is what the parent sends the init child on the handoff pipe.
// The child never sees the parent's Config, only these fields.
type request struct {
	Descriptor  Descriptor `cbor:"1,keyasint"`
	ScratchRoot string     `cbor:"2,keyasint"`
	Driver      Driver     `cbor:"3,keyasint"`
	WorkPolicy  WorkPolicy `cbor:"4,keyasint"`
	MountProc   bool       `cbor:"5,keyasint,omitempty"`
	DefaultPath string     `cbor:"6,keyasint,omitempty"`
	LogLevel    string     `cbor:"7,keyasint,omitempty"`
}

// report is what the init child writes on the status pipe when a stage
// fails. A successful exec closes the pipe without writing anything.
type report struct {
	Stage    Stage  `cbor:"1,keyasint"`
	Op       string `cbor:"2,keyasint,omitempty"`
	Path     string `cbor:"3,keyasint,omitempty"`
	Message  string `cbor:"4,keyasint"`
	Errno    int    `cbor:"5,keyasint,omitempty"`
	Sentinel string `cbor:"6,keyasint,omitempty"`
	Code     int    `cbor:"7,keyasint"`
}

// sentinels are the errors that survive the trip across the status pipe,
// so errors.Is works on a failure reported by the child.
var sentinels = []error{
	ErrImageNotFound,
	ErrStaleMount,
	ErrDirtyWork,
	ErrOldRootAttached,
	ErrUnsafePath,
	ErrUntrustedScratch,
	ErrInvalidID,
	ErrEmptyCommand,
}

func newReport(launchErr *Error) report {
	r := report{
		Stage: launchErr.Stage,
		Op:    launchErr.Op,
		Path:  launchErr.Path,
		Code:  launchErr.ExitCode(),
	}
	if launchErr.Err != nil {
		r.Message = launchErr.Err.Error()
	}

	var errno unix.Errno
	if errors.As(launchErr.Err, &errno) {
		r.Errno = int(errno)
	}
	for _, sentinel := range sentinels {
		if errors.Is(launchErr.Err, sentinel) {
			r.Sentinel = sentinel.Error()
			break
		}
	}
	return r
}

// toError reconstructs the child's failure in the parent.
func (r report) toError() *Error {
	var cause error = &reportedError{message: r.Message, errno: unix.Errno(r.Errno)}
	for _, sentinel := range sentinels {
		if r.Sentinel == sentinel.Error() {
			cause = &reportedError{message: r.Message, errno: unix.Errno(r.Errno), sentinel: sentinel}
			break
		}
	}
	launchErr := stageError(r.Stage, r.Op, r.Path, cause)
	if r.Code != r.Stage.ExitCode() {
		launchErr.code = r.Code
	}
	return launchErr
}

// reportedError carries the child's message verbatim and unwraps to the
// errno and sentinel it was built from.
type reportedError struct {
	message  string
	errno    unix.Errno
	sentinel error
}

func (e *reportedError) Error() string {
	return e.message
}

func (e *reportedError) Unwrap() []error {
	var wrapped []error
	if e.errno != 0 {
		wrapped = append(wrapped, e.errno)
	}
	if e.sentinel != nil {
		wrapped = append(wrapped, e.sentinel)
	}
	return wrapped
}

// writeReport encodes a failure report to w.
func writeReport(w io.Writer, launchErr *Error) error {
	return codec.NewEncoder(w).Encode(newReport(launchErr))
}

// readReport reads the status pipe to EOF. No bytes means the child
// reached exec; the returned error is then nil.
func readReport(r io.Reader) (*Error, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading status pipe: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var rep report
	if err := codec.Unmarshal(data, &rep); err != nil {
		diagnostic, _ := codec.Diagnose(data)
		return nil, fmt.Errorf("decoding status report (%s): %w", diagnostic, err)
	}
	return rep.toError(), nil
}

// writeRequest encodes the launch request to w.
func writeRequest(w io.Writer, req request) error {
	return codec.NewEncoder(w).Encode(req)
}

// readRequest decodes the launch request from r.
func readRequest(r io.Reader) (request, error) {
	var req request
	if err := codec.NewDecoder(r).Decode(&req); err != nil {
		return request{}, fmt.Errorf("decoding launch request: %w", err)
	}
	return req, nil
}
