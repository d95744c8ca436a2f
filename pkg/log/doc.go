/*
Package log provides structured logging for CachePilot using zerolog.

A single global logger is initialized once via Init and shared across
packages. Components derive child loggers with WithComponent, and
tenant-scoped code with WithTenant, so every line carries its context
without repetitive field plumbing.

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stderr,
	})

	logger := log.WithComponent("manager")
	logger.Info().Str("tenant", "acme").Msg("tenant created")

JSON output is for production collection; console output is for humans.
*/
package log
