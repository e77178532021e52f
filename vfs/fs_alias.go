// Package vfs layers Direct I/O helpers and fault injection on top of the
// core filesystem abstraction defined in internal/vfs.
//
// Reference: RocksDB v10.7.5
//   env/env.h - Env, WritableFile, SequentialFile, RandomAccessFile
package vfs

import (
	ivfs "github.com/aalhour/ledgerkv/internal/vfs"
)

// FS re-exports the core filesystem interface so that callers outside
// internal/ (DBImpl and its collaborators) can depend on a single type
// while internal/vfs remains the implementation home.
type FS = ivfs.FS

// WritableFile, SequentialFile and RandomAccessFile re-export the
// corresponding internal/vfs file interfaces.
type (
	WritableFile     = ivfs.WritableFile
	SequentialFile   = ivfs.SequentialFile
	RandomAccessFile = ivfs.RandomAccessFile
)

// Default returns the real-OS filesystem implementation.
func Default() FS {
	return ivfs.Default()
}

// FaultInjectionFS re-exports the fault-injection filesystem wrapper.
type FaultInjectionFS = ivfs.FaultInjectionFS

// NewFaultInjectionFS creates a new fault-injection filesystem wrapping base.
func NewFaultInjectionFS(base FS) *FaultInjectionFS {
	return ivfs.NewFaultInjectionFS(base)
}

// ErrInjectedReadError and ErrInjectedWriteError re-export the fault
// injection sentinel errors.
var (
	ErrInjectedReadError  = ivfs.ErrInjectedReadError
	ErrInjectedWriteError = ivfs.ErrInjectedWriteError
)
