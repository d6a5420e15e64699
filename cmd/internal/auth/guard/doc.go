// Package guard implements Bastion's rotation rate guard.
//
// It throttles operations with fixed-window counters keyed by
// (key, operation). Counters live behind the CounterStore interface: the
// in-memory implementation serves tests and single-node deployments, the
// Redis implementation serves multi-instance deployments where process-local
// counters would be trivially bypassable by load-balancer round-robin.
//
// Window reset is lazy: a window is (re)initialized on first use after the
// previous window's deadline has passed.
package guard
