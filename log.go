package tnd

import (
	"github.com/btcsuite/btcd/connmgr"
	btclogv1 "github.com/btcsuite/btclog"
	"github.com/btcsuite/btclog/v2"
	"github.com/tronnode/tnd/advsvc"
	"github.com/tronnode/tnd/build"
	"github.com/tronnode/tnd/chainsync"
	"github.com/tronnode/tnd/chanmgr"
	"github.com/tronnode/tnd/memchain"
	"github.com/tronnode/tnd/monitoring"
	"github.com/tronnode/tnd/msghandler"
	"github.com/tronnode/tnd/netsvc"
	"github.com/tronnode/tnd/peer"
	"github.com/tronnode/tnd/peercheck"
	"github.com/tronnode/tnd/signal"
)

// replaceableLogger is a thin wrapper around a logger that is used so the
// logger can be replaced easily without some black pointer magic.
type replaceableLogger struct {
	btclog.Logger
	subsystem string
}

// Loggers can not be used before the log rotator has been initialized with a
// log file. This must be performed early during application startup by
// calling SetupLoggers.
var (
	// tndPkgLoggers is a list of all tnd package level loggers that are
	// registered. They are tracked here so they can be replaced once the
	// SetupLoggers function is called with the final root logger.
	tndPkgLoggers []*replaceableLogger

	// addTndPkgLogger is a helper function that creates a new replaceable
	// main tnd package level logger and adds it to the list of loggers
	// that are replaced again later, once the final root logger is ready.
	addTndPkgLogger = func(subsystem string) *replaceableLogger {
		l := &replaceableLogger{
			Logger:    build.NewSubLogger(subsystem, nil),
			subsystem: subsystem,
		}
		tndPkgLoggers = append(tndPkgLoggers, l)
		return l
	}

	// Loggers that need to be accessible from the tnd package can be
	// placed here. Loggers that are only used in sub modules can be added
	// directly by using the addSubLogger method. We declare all loggers so
	// we never run into a nil reference if they are used early. But the
	// SetupLoggers function should always be called as soon as possible
	// to finish setting them up properly with a root logger.
	tndLog  = addTndPkgLogger("TND")
	srvrLog = addTndPkgLogger("SRVR")
)

// genSubLogger creates a logger for a subsystem. We provide an instance of
// a signal.Interceptor to be able to shutdown in the case of a critical
// error.
func genSubLogger(root *build.SubLoggerManager,
	interceptor signal.Interceptor) func(string) btclog.Logger {

	// Create a shutdown function which will request shutdown from our
	// interceptor if it is listening.
	shutdown := func() {
		if !interceptor.Listening() {
			return
		}

		interceptor.RequestShutdown()
	}

	// Return a function which will create a sublogger from our root
	// logger without shutdown fn.
	return func(tag string) btclog.Logger {
		return &shutdownLogger{
			Logger:   root.GenSubLogger(tag),
			shutdown: shutdown,
		}
	}
}

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *build.SubLoggerManager,
	interceptor signal.Interceptor) {

	genLogger := genSubLogger(root, interceptor)

	// Now that we have the proper root logger, we can replace the
	// placeholder tnd package loggers.
	for _, l := range tndPkgLoggers {
		l.Logger = build.NewSubLogger(l.subsystem, genLogger)
	}

	AddSubLogger(root, signal.Subsystem, interceptor, signal.UseLogger)
	AddSubLogger(root, netsvc.Subsystem, interceptor, netsvc.UseLogger)
	AddSubLogger(root, peer.Subsystem, interceptor, peer.UseLogger)
	AddSubLogger(root, chanmgr.Subsystem, interceptor, chanmgr.UseLogger)
	AddV1SubLogger(root, "CONN", interceptor, connmgr.UseLogger)
	AddSubLogger(root, advsvc.Subsystem, interceptor, advsvc.UseLogger)
	AddSubLogger(
		root, chainsync.Subsystem, interceptor, chainsync.UseLogger,
	)
	AddSubLogger(
		root, peercheck.Subsystem, interceptor, peercheck.UseLogger,
	)
	AddSubLogger(
		root, msghandler.Subsystem, interceptor, msghandler.UseLogger,
	)
	AddSubLogger(root, memchain.Subsystem, interceptor, memchain.UseLogger)
	AddSubLogger(
		root, monitoring.Subsystem, interceptor, monitoring.UseLogger,
	)
}

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems.
func AddSubLogger(root *build.SubLoggerManager, subsystem string,
	interceptor signal.Interceptor, useLoggers ...func(btclog.Logger)) {

	// genSubLogger will return a callback for creating a logger instance,
	// which we will give to the root logger.
	genLogger := genSubLogger(root, interceptor)

	// Create just a single logger to prevent them from overwriting each
	// other internally. The root manager registers it on creation.
	logger := build.NewSubLogger(subsystem, genLogger)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}

// AddV1SubLogger is like AddSubLogger but for libraries still logging
// through the first version of btclog.
func AddV1SubLogger(root *build.SubLoggerManager, subsystem string,
	interceptor signal.Interceptor, useLoggers ...func(btclogv1.Logger)) {

	logger := build.NewSubLogger(subsystem, genSubLogger(root, interceptor))
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}

// shutdownLogger wraps a logger and requests shutdown of the node once a
// critical message is logged.
type shutdownLogger struct {
	btclog.Logger
	shutdown func()
}

// Criticalf formats message according to format specifier and writes to
// log with LevelCritical. It then requests shutdown.
func (s *shutdownLogger) Criticalf(format string, params ...interface{}) {
	s.Logger.Criticalf(format, params...)
	s.Logger.Info("Sending request for shutdown")
	s.shutdown()
}

// Critical formats message using the default formats for its operands and
// writes to log with LevelCritical. It then requests shutdown.
func (s *shutdownLogger) Critical(v ...interface{}) {
	s.Logger.Critical(v...)
	s.Logger.Info("Sending request for shutdown")
	s.shutdown()
}
