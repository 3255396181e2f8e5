/*
Package circuit implements circuit breaker functionality for outbound
connections to backend hosts.

It provides two types of circuit breakers: consecutive and failure rate
based. The circuit breakers are configured per backend host. The registry
ensures synchronized access to the active breakers and the recycling of the
idle ones.

The circuit breakers are always assigned to backend hosts, so that the
outcome of connections to one host never affects the circuit breaker
behavior of another host.

# Breaker Type - Consecutive Failures

This breaker opens when a connection attempt to a backend failed at least N
times in a row. When open, connection attempts are rejected during the
breaker timeout. After this timeout, the breaker goes into half-open state,
in which it expects that M number of connection attempts succeed. The
attempts in the half-open state are accepted concurrently. If any of the
attempts during the half-open state fails, the breaker goes back to open
state. If all succeed, it goes to closed state again.

# Breaker Type - Failure Rate

The "rate breaker" works similar to the "consecutive breaker", but instead
of considering N consecutive failures for going open, it maintains a
sliding window of the last M events, both successes and failures, and opens
only when the number of failures reaches N within the window. This way the
sliding window is not time based and allows the same breaker
characteristics for high and low rate traffic.

# Usage

The Registry holds the circuit breakers and their settings, keyed by
backend host. This package is used by internal/conn's
ConnectionFactory implementation as an optional guard in front of the
underlying dial: when a host's breaker is open, Connect fails fast instead
of attempting to dial, which the caller's existing consecutive-failure
quarantine machinery (in the loadbalancer package) then observes the same
way as any other connect failure. The two mechanisms are independent:
this package gates individual dial attempts at the transport layer, while
the loadbalancer package's host health state machine governs whether the
host is selectable at all.

# Settings - Type

It can be ConsecutiveFailures, FailureRate or Disabled, where the first two
values select which breaker to use, while the Disabled value can override a
configuration, disabling the circuit breaker for the specific host.

# Settings - Host

The Host field indicates to which backend host the current set of settings
applies. Leaving it empty indicates default settings applied to any host
without a more specific entry.

# Settings - Window

The window value sets the size of the sliding counter window of the failure
rate breaker.

# Settings - Failures

The failures value sets the max failure count for both the "consecutive"
and "rate" breakers.

# Settings - Timeout

With the timeout we can set how long the breaker should stay open, before
becoming half-open.

# Settings - Half-Open Requests

Defines the number of connection attempts expected to succeed while the
circuit breaker is in the half-open state.

# Settings - Idle TTL

Defines the idle timeout after which a circuit breaker gets recycled, if it
hasn't been used.

# Registry

The active circuit breakers are stored in a registry. They are created
on-demand, for the requested settings. The registry synchronizes access to
the shared circuit breakers. When the registry detects that a circuit
breaker is idle, it resets it, this way avoiding that an old series of
failures would cause the circuit breaker to go open after an unreasonably
low number of recent failures. The registry also makes sure to clean up
idle circuit breakers that are not requested anymore. This happens in a
passive way, whenever a new circuit breaker is created. The cleanup
prevents storing circuit breakers for inaccessible backend hosts
infinitely in those scenarios where the discovered host set is
continuously changing.
*/
package circuit
