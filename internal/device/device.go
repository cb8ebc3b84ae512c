// Package device abstracts the character device that delivers upcalls and
// accepts downcalls (spec.md §6 "Device protocol"), so the dispatcher in
// internal/dispatch never has to open /dev/pvfs2-req directly and can be
// driven end to end in tests against an in-memory pipe instead.
package device

import (
	"io"
	"os"

	"github.com/pvfs2/client/pkg/errors"
)

// Device is the dispatcher's only dependency on the kernel boundary: read
// one upcall at a time, write one downcall at a time, close at shutdown.
type Device interface {
	ReadUpcall(buf []byte) (int, error)
	WriteDowncall(buf []byte) error
	Close() error
}

// fileDevice is the production backend: a plain character device node
// opened for read/write, read and written with ordinary syscalls.
type fileDevice struct {
	f *os.File
}

// OpenFile opens path (normally /dev/pvfs2-req) as a Device.
func OpenFile(path string) (Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap("device", errors.CodeDeviceOpenFailed, err).WithOperation("OpenFile").
			WithContext("path", path)
	}
	return &fileDevice{f: f}, nil
}

func (d *fileDevice) ReadUpcall(buf []byte) (int, error) {
	n, err := d.f.Read(buf)
	if err != nil {
		return n, errors.Wrap("device", errors.CodeDeviceIO, err).WithOperation("ReadUpcall")
	}
	return n, nil
}

func (d *fileDevice) WriteDowncall(buf []byte) error {
	if _, err := d.f.Write(buf); err != nil {
		return errors.Wrap("device", errors.CodeDeviceIO, err).WithOperation("WriteDowncall")
	}
	return nil
}

func (d *fileDevice) Close() error { return d.f.Close() }

// pipeDevice wraps an arbitrary io.ReadWriteCloser, so tests can drive the
// dispatcher against an in-memory pipe instead of a real device node.
type pipeDevice struct {
	rwc io.ReadWriteCloser
}

// NewPipeDevice adapts rwc (typically one end of a net.Pipe or io.Pipe) to
// the Device interface.
func NewPipeDevice(rwc io.ReadWriteCloser) Device {
	return &pipeDevice{rwc: rwc}
}

func (d *pipeDevice) ReadUpcall(buf []byte) (int, error) {
	n, err := d.rwc.Read(buf)
	if err != nil {
		return n, errors.Wrap("device", errors.CodeDeviceIO, err).WithOperation("ReadUpcall")
	}
	return n, nil
}

func (d *pipeDevice) WriteDowncall(buf []byte) error {
	if _, err := d.rwc.Write(buf); err != nil {
		return errors.Wrap("device", errors.CodeDeviceIO, err).WithOperation("WriteDowncall")
	}
	return nil
}

func (d *pipeDevice) Close() error { return d.rwc.Close() }
