/*
Package health checks tenant endpoints from the client's side of the
network.

Container-level health (is the process up) lives in pkg/runtime; this
package answers the stronger question of whether a client can actually
reach and authenticate against the engine. TCPChecker probes bare
connectivity; RedisChecker authenticates and pings over either
listener, with TLS verification against the local CA when the tenant is
encrypted. ForRecord picks the right listener for a record's security
mode.
*/
package health
