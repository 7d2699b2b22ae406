package wasm

import (
	"fmt"
	"strings"
	"time"

	"github.com/woxQAQ/robokernel/pkg/protocol"
)

// CompilationError occurs when guest module compilation fails
type CompilationError struct {
	ModuleName string
	Err        error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("compile guest %s: %v", e.ModuleName, e.Err)
}

func (e *CompilationError) Unwrap() error {
	return e.Err
}

// InstantiationError occurs when module instantiation fails
type InstantiationError struct {
	ModuleName string
	InstanceID string
	Err        error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("instantiate guest %s as %s: %v", e.ModuleName, e.InstanceID, e.Err)
}

func (e *InstantiationError) Unwrap() error {
	return e.Err
}

// ModuleNotFoundError occurs when a module is not in cache
type ModuleNotFoundError struct {
	ModuleName string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("guest %s has not been compiled", e.ModuleName)
}

// FunctionNotFoundError occurs when a required export is missing
type FunctionNotFoundError struct {
	ModuleName   string
	FunctionName string
}

func (e *FunctionNotFoundError) Error() string {
	return fmt.Sprintf("guest %s does not export %s", e.ModuleName, e.FunctionName)
}

// GuestContractError occurs when a guest imports host functions the
// runtime does not provide.
type GuestContractError struct {
	ModuleName string
	Imports    []string
}

func (e *GuestContractError) Error() string {
	return fmt.Sprintf("guest %s imports unknown host functions: %s", e.ModuleName, strings.Join(e.Imports, ", "))
}

// MemoryAccessError occurs when memory operations fail. It matches
// protocol.ErrMemoryOutOfBounds with errors.Is.
type MemoryAccessError struct {
	Operation string
	Address   uint32
	Length    uint32
	Err       error
}

func (e *MemoryAccessError) Error() string {
	return fmt.Sprintf("guest memory %s of %d bytes at %d: %v", e.Operation, e.Length, e.Address, e.Err)
}

func (e *MemoryAccessError) Unwrap() error {
	return e.Err
}

func (e *MemoryAccessError) Is(target error) bool {
	return target == protocol.ErrMemoryOutOfBounds
}

// TimeoutError occurs when guest execution times out
type TimeoutError struct {
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("guest entry point ran longer than %v", e.Duration)
}
