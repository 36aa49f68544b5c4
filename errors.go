package shapesync

import "errors"

var (
	ErrInvalidCfg   = errors.New("pool: invalid options")
	ErrPoolClosed   = errors.New("pool: closed")
	ErrInvalidShape = errors.New("pool: shape descriptor has no id")
	ErrReleased     = errors.New("pool: connection released before being ready")
	ErrSendFailed   = errors.New("pool: could not send envelope")
)
