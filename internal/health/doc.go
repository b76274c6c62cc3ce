// Package health provides liveness and readiness probes and their HTTP
// handlers for the API and ops servers.
//
// Probes compose with [All]. [NonEmpty] gates readiness on loaded data such as
// the account directory. [ShutdownGate] fails readiness during drain so load
// balancers stop sending traffic before in-flight requests finish.
package health
