package activity

import "errors"

var (
	ErrRecorderAlreadyRunning = errors.New("activity recorder is already running")
	ErrRecorderNotRunning     = errors.New("activity recorder is not running")
	ErrQueueFull              = errors.New("activity queue is full")
)
