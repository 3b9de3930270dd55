// Package compiler turns a topology into a deployment manifest.
//
// A Compiler walks the non-native nodes of a topology and produces one
// marathon.App per node, collected in a marathon.Group keyed by the lower
// cased deployment id. Every compilation shares the same ports.Allocator,
// which is what makes the output independent of node order:
//
//	alloc := ports.New(ports.DefaultBase)
//	c := compiler.New(alloc, compiler.DefaultConfig())
//	group, err := c.CompileGroup("Shop-Prod", topo)
//
// When WebApp connects to the sql endpoint of DbApp, compiling WebApp first
// reserves the service port of (dbapp, sql). Compiling DbApp later finds the
// reservation and reuses it, and the reverse order yields the same port.
//
// # Errors
//
// Failures are reported as *CompileError naming the node and the field at
// fault. The error matches one of ErrValidation, ErrUnsupported or
// ErrNotImplemented with errors.Is. A node that fails never leaves a partial
// app behind and never allocates ports, since validation completes before
// the allocator is touched.
package compiler
