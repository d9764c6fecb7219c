package node

import (
	"errors"
)

var (
	ErrConnNotFound = errors.New("node: connection not found")
	ErrNotListening = errors.New("node: server is not listening")
)
