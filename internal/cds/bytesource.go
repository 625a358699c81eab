package cds

import "io"

// ByteSource is the lazy byte stream a resource handler hands back to the
// dispatcher (spec §4.8): readable, seekable, and closable so the HTTP layer
// can satisfy Range requests and release the underlying file/process when
// done.
type ByteSource = io.ReadSeekCloser
