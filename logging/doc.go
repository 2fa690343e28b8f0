// Package logging provides a tiny abstraction over slog so downstream code
// can depend on a minimal interface (Logger) while allowing users to plug any
// structured logger. It also offers a richer FlouLogger with contextual
// helpers (component, session, identity) and domain specific logging helpers
// for actions, session results and telemetry flushes.
package logging
