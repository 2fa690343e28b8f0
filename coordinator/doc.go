// Package coordinator drives one session from admission to its terminal
// result. Each session walks a fixed state machine: acquire an identity,
// obtain a behavior plan, execute the plan's actions strictly in order with
// per-action timeout and retry, then emit exactly one SessionResult. All
// failures are local to the session; the identity is released on every
// path, with a success outcome only when the session completes. Failed and
// aborted sessions release with a failure outcome, feeding the pool's
// cooldown bookkeeping.
package coordinator
