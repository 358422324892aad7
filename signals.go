package main

import (
	"errors"
	"os"
	"syscall"
)

var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

var errStartUp = errors.New("failed to start agent server")
