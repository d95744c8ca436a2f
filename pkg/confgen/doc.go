/*
Package confgen generates every artifact derived from a tenant record.

Generation is a pure function of the record and the runtime settings: no
I/O, no clock, no randomness. The same record always yields byte-equal
output, and files on disk are always rewritten whole. Drift is repaired
by regeneration instead of patching.

# Artifacts

	Generate(record, runtime)
	  ├─ redis.conf           engine configuration
	  ├─ docker-compose.yml   container manifest
	  └─ insight-proxy.conf   GUI reverse proxy (when enabled)

The security mode decides which listeners exist, and only mode-enabled
listeners appear anywhere in the output:

  - encrypted-only: TLS listener, plaintext disabled with "port 0"
  - dual: both listeners
  - plaintext-only: plaintext listener, no TLS directives at all

The manifest publishes exactly the ports the mode enables, and the
readiness probe connects over an enabled listener (TLS when it is the
only one). An unknown mode is rejected, never defaulted.

# Fixed Policy

Every tenant gets the same baseline regardless of mode: password
authentication, a memory ceiling with allkeys-lru eviction, protected
mode off (isolation comes from the password and the port exposure), and
a set of administrative commands renamed away. Durable tenants snapshot
on the standard schedule and keep an append-only log; ephemeral tenants
persist nothing.
*/
package confgen
