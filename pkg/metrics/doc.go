/*
Package metrics defines CachePilot's Prometheus collectors.

Collectors are package-level and registered once via Register. The
surface is small: operation counts and durations labeled by operation
and outcome, a tenant gauge by security mode, and counters for health
wait timeouts and certificate renewals.
*/
package metrics
