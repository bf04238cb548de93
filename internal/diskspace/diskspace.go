// Package diskspace checks free space on the file system a download lands on.
package diskspace

import (
	"errors"
	"fmt"
)

// SafetyMargin is applied to the requested size before comparing.
const SafetyMargin = 1.1

// ErrInsufficientSpace is matched by every *InsufficientSpaceError.
var ErrInsufficientSpace = errors.New("insufficient disk space")

// InsufficientSpaceError reports a destination without room for a transfer.
type InsufficientSpaceError struct {
	Dir       string
	Required  uint64
	Available uint64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space in %s: need %.2f MB, have %.2f MB available",
		e.Dir, float64(e.Required)/(1024*1024), float64(e.Available)/(1024*1024))
}

func (e *InsufficientSpaceError) Is(target error) bool {
	return target == ErrInsufficientSpace
}

// Check reports an *InsufficientSpaceError when dir's file system cannot
// hold need bytes plus the safety margin. When free space cannot be
// determined the check passes and the transfer fails on its own if it must.
func Check(dir string, need uint64) error {
	avail, ok := Available(dir)
	if !ok {
		return nil
	}
	return compare(dir, need, avail)
}

func compare(dir string, need, avail uint64) error {
	required := uint64(float64(need) * SafetyMargin)
	if avail < required {
		return &InsufficientSpaceError{Dir: dir, Required: required, Available: avail}
	}
	return nil
}
