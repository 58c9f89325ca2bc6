package model

import "errors"

var (
	// ErrConfig marks an invalid or unsupported configuration value.
	ErrConfig = errors.New("config error")
	// ErrCheckpoint marks an unreadable or shape-mismatched model state.
	ErrCheckpoint = errors.New("checkpoint error")
	// ErrData marks a missing or malformed scene or baseline-label file.
	ErrData = errors.New("data error")
	// ErrNumeric marks a non-finite loss or gradient during adaptation.
	ErrNumeric = errors.New("numeric error")
)
