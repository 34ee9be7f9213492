// Package device provides the transport channel abstraction for mining
// devices, the wire framing spoken over it, and a software device simulator
// backed by a real double-SHA256 hasher.
package device

import "io"

// Channel is a byte stream to a mining device. Close unblocks any pending
// Read; a Read on a closed channel returns an error.
type Channel interface {
	io.ReadWriteCloser
}

// Opener produces a fresh channel at the start of each dispatch cycle.
// Open is called again after every fault, so implementations must hand out
// a new usable channel each time.
type Opener interface {
	Open() (Channel, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func() (Channel, error)

// Open implements Opener.
func (f OpenerFunc) Open() (Channel, error) { return f() }
