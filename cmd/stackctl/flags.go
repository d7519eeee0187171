package main

import "time"

// GlobalFlags holds persistent flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
	JSON       bool
}

// UpFlags holds flags for the up subcommand.
type UpFlags struct {
	Only      []string
	OnFailure string
	Parallel  bool
}

// DownFlags holds flags for the down subcommand.
type DownFlags struct {
	Only []string
}

// StatusFlags holds flags for the status subcommand.
type StatusFlags struct {
	Timeout time.Duration
	History int
}

// ServeFlags holds flags for the serve subcommand.
type ServeFlags struct {
	Listen   string
	BasePath string
	Parallel bool
}
