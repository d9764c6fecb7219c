package node

import (
	"bytes"
)

// Handler turns a buffered request into a reply using a leased pooled resource. A nil reply with a nil error
// means the request is incomplete and more bytes are needed.
type Handler[R any] interface {
	Serve(request []byte, res R) ([]byte, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[R any] func(request []byte, res R) ([]byte, error)

func (f HandlerFunc[R]) Serve(request []byte, res R) ([]byte, error) {
	return f(request, res)
}

// EchoHandler replies with each request once it holds a complete line. The reply is assembled in the leased
// scratch buffer and copied out before the lease ends.
type EchoHandler struct{}

func (EchoHandler) Serve(request []byte, buf *bytes.Buffer) ([]byte, error) {
	if bytes.IndexByte(request, '\n') < 0 {
		return nil, nil
	}
	buf.Reset()
	buf.Write(request)
	return bytes.Clone(buf.Bytes()), nil
}
