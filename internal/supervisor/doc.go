// Package supervisor runs short- and long-lived goroutines ("units") under a
// shared context and a single fault policy.
//
// Every unit is started with Go. A unit fails when its function returns a
// non-nil error (other than a context cancellation) or panics. Failures are
// recovered at the unit boundary, turned into a Fault, logged and passed to
// the global fault handler. What happens next depends on the Policy:
//
//   - PolicyIsolate: the failed unit is marked failed and nothing else is
//     affected. This is the default.
//   - PolicyEscalate: the first fault cancels the supervisor context, which
//     stops every other unit that honours it. Err then reports the fault
//     wrapped in ErrEscalated.
//
// Groups join a batch of units (for example the automation initialisers)
// while still routing their faults through the supervisor.
//
// # Thread Safety
//
// Supervisor and Group are safe for concurrent use.
package supervisor
