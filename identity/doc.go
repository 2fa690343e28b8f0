// Package identity manages the pool of rotating egress identities handed to
// sessions. The pool is the single arena owning identity state: callers only
// interact through Acquire and Release, each a single bounded critical
// section, which preserves the invariant that an identity is held by at most
// one active session at a time.
package identity
