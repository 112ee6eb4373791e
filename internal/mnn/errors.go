package mnn

import "errors"

var (
	ErrEmptyPath     = errors.New("model path is required")
	ErrEmptyQuestion = errors.New("question is required")
	ErrNotLoaded     = errors.New("model not loaded")
	ErrLoadFailed    = errors.New("native load failed")
	ErrEmptyReply    = errors.New("native chat returned an empty reply")
	ErrClosed        = errors.New("handle closed")
)
