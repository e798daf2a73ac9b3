package request

import (
	"io"
	"sync"

	"github.com/teapotnet/teapotnet/pkg/identifier"
	"github.com/teapotnet/teapotnet/pkg/proto"
)

// Response is one peer's answer to a Request. A response that carries
// data owns a pipe (§3): the producer side is fed by the session's
// inbound demultiplexer as D frames arrive on Channel, the consumer side
// is exposed to the caller via Content.
type Response struct {
	mu sync.Mutex

	Status     proto.Status
	Parameters map[string]string
	Peering    identifier.Identifier
	Channel    uint32

	transferStarted  bool
	transferFinished bool

	pr *io.PipeReader
	pw *io.PipeWriter
}

// NewResponse constructs a Response. If channel is non-zero the response
// carries a content pipe.
func NewResponse(peering identifier.Identifier, status proto.Status, parameters map[string]string, channel uint32) *Response {
	r := &Response{
		Status:     status,
		Parameters: parameters,
		Peering:    peering,
		Channel:    channel,
	}
	if channel != 0 {
		r.pr, r.pw = io.Pipe()
	}
	return r
}

// HasContent reports whether this response carries a data channel.
func (r *Response) HasContent() bool { return r.pw != nil }

// Content returns the reader side of the response's pipe, or nil if this
// response carries no data.
func (r *Response) Content() io.Reader {
	if r.pr == nil {
		return nil
	}
	return r.pr
}

// MarkTransferStarted records that the sender has announced this
// response's channel (an R frame with non-zero channel was sent/seen).
func (r *Response) MarkTransferStarted() {
	r.mu.Lock()
	r.transferStarted = true
	r.mu.Unlock()
}

// TransferStarted reports whether MarkTransferStarted has been called.
func (r *Response) TransferStarted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transferStarted
}

// TransferFinished reports whether the content pipe has been closed,
// cleanly or with an error. Per invariant 4, this is only ever true once
// the pipe is actually closed.
func (r *Response) TransferFinished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transferFinished
}

// WriteChunk feeds one D-frame payload into the response's content pipe.
// Called by the session's inbound demultiplexer.
func (r *Response) WriteChunk(p []byte) error {
	if r.pw == nil {
		return nil
	}
	_, err := r.pw.Write(p)
	return err
}

// Close closes the content pipe cleanly (zero-length D frame / EOF) and
// marks the transfer finished.
func (r *Response) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transferFinished {
		return
	}
	r.transferFinished = true
	if r.pw != nil {
		r.pw.Close()
	}
}

// CloseWithError closes the content pipe with an error status (E frame,
// or session loss) and marks the transfer finished.
func (r *Response) CloseWithError(status proto.Status, err error) {
	r.mu.Lock()
	if r.transferFinished {
		r.mu.Unlock()
		return
	}
	r.Status = status
	r.transferFinished = true
	r.mu.Unlock()
	if r.pw != nil {
		r.pw.CloseWithError(err)
	}
}
