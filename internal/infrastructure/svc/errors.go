package svc

import "errors"

// ErrNoBotsConfigured means the config names no tradable pairs.
var ErrNoBotsConfigured = errors.New("no bots configured")

// ErrStorageInitFailed wraps storage bring-up failures.
var ErrStorageInitFailed = errors.New("storage initialization failed")
