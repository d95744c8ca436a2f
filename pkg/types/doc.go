/*
Package types defines the core data structures shared across CachePilot.

The central type is TenantRecord, the durable description of one tenant
from which every other artifact is derived. SecurityMode and
PersistenceMode are closed enums: code switching on them handles every
member explicitly and rejects unknown values instead of defaulting.

Validation helpers live here too, so every entry point (CLI, manager)
applies the same rules: DNS-label-style tenant names, a minimum engine
memory, and the ordering invariant that the container limit is at least
the engine ceiling.
*/
package types
