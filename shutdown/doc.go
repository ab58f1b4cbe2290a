// Package shutdown provides phased graceful shutdown for the quotagate admin
// server.
//
// Handlers register under a phase; lower phases run first and handlers in
// the same phase run concurrently. The server uses three phases:
//
//   - PhaseListeners: stop the HTTP listener and drain in-flight admin requests
//   - PhaseEngine: close the rate-limit engine so queued callers receive CANCELED
//   - PhaseFlush: flush trace exporters and sync the logger
//
// Usage:
//
//	coord := shutdown.NewCoordinator(shutdown.Config{Timeout: 10 * time.Second, Logger: log})
//	coord.RegisterFuncWithPhase("http", srv.Shutdown, shutdown.PhaseListeners)
//	coord.RegisterFuncWithPhase("engine", func(context.Context) error { return engine.Close() }, shutdown.PhaseEngine)
//	coord.HandleSignals()
//	<-coord.Done()
//
// A panicking handler is recorded as a failed handler rather than crashing
// the process.
package shutdown
