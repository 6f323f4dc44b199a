// Copyright (c) 2013-2014 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"os/signal"
)

// signals defines the signals that are handled to do a clean shutdown.
// Conditional compilation is used to also include SIGTERM on Unix.
var signals = []os.Signal{os.Interrupt}

// interceptor turns OS signals and internal shutdown requests into a single
// shutdown notification.
type interceptor struct {
	// interruptChannel receives the intercepted OS signals.
	interruptChannel chan os.Signal

	// shutdownRequests receives shutdown requests from within the daemon,
	// for example when the HTTP listener dies.
	shutdownRequests chan struct{}

	// quit is closed once the first shutdown cause arrived.
	quit chan struct{}

	// shutdownChannel is closed right after quit and handed to callers.
	shutdownChannel chan struct{}
}

// newInterceptor starts the shutdown handler without registering for OS
// signals.
func newInterceptor() *interceptor {
	i := &interceptor{
		interruptChannel: make(chan os.Signal, 1),
		shutdownRequests: make(chan struct{}),
		quit:             make(chan struct{}),
		shutdownChannel:  make(chan struct{}),
	}
	go i.mainInterruptHandler()

	return i
}

// interceptSignals returns an interceptor notified of the shutdown signals.
func interceptSignals() *interceptor {
	i := newInterceptor()
	signal.Notify(i.interruptChannel, signals...)

	return i
}

// mainInterruptHandler waits for the first signal or shutdown request, then
// closes the shutdown channels. Later causes are ignored.
func (i *interceptor) mainInterruptHandler() {
	defer signal.Stop(i.interruptChannel)

	select {
	case sig := <-i.interruptChannel:
		log.Infof("Received signal (%s).  Shutting down...", sig)

	case <-i.shutdownRequests:
		log.Info("Received shutdown request.  Shutting down...")
	}

	close(i.quit)
	close(i.shutdownChannel)
}

// Alive reports whether no shutdown was initiated yet.
func (i *interceptor) Alive() bool {
	select {
	case <-i.quit:
		return false
	default:
		return true
	}
}

// RequestShutdown initiates a shutdown unless one is already under way.
func (i *interceptor) RequestShutdown() {
	select {
	case i.shutdownRequests <- struct{}{}:
	case <-i.quit:
	}
}

// ShutdownChannel is closed once a shutdown was initiated.
func (i *interceptor) ShutdownChannel() <-chan struct{} {
	return i.shutdownChannel
}
