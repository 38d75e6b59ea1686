// Package log provides the small leveled logging interface used across chatmemory.
//
// Session memory, the history stores and the binaries log through the Logger
// interface rather than a concrete library, so callers can plug in whatever
// they already use.
//
// # Implementations
//
//   - DefaultLogger writes through the standard library log package with the
//     "[chatmemory] " prefix and a "[LEVEL] " tag per line.
//   - GologLogger forwards to a github.com/kataras/golog logger. The binaries
//     use it by default.
//   - NoOpLogger discards everything.
//
// # Example Usage
//
//	level, err := log.ParseLevel(cfg.Log.Level)
//	if err != nil {
//		return err
//	}
//
//	glogger := golog.New()
//	logger := log.NewGologLogger(glogger)
//	logger.SetLevel(level)
//
//	logger.Warn("history store unavailable for %s: %v", key, err)
//
// # Package-level Logger
//
// Info, Warn and Error write to a package-level logger that defaults to a
// DefaultLogger at info level. cmd/chatmemory replaces it with its golog
// logger through SetDefaultLogger, and SessionMemory falls back to it when
// no logger is configured.
package log
