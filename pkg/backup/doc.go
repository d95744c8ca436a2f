/*
Package backup archives and restores whole tenant directories.

An archive is a tar.gz of everything the tenant owns: record, generated
configuration, certificates and the engine's data directory. Because the
record travels inside the archive, a restore needs nothing but the
archive itself.

Before archiving, the engine is asked to flush to disk. The flush is
best-effort: the command may be disabled in the engine configuration,
in which case the archive carries the last automatic snapshot and the
append-only log.

# Restore Safety

Restore never leaves a tenant without a directory. The current
directory is renamed aside, the archive is extracted, and the extracted
record is parsed and checked against the tenant name. Only then is the
set-aside directory discarded. Any failure on the way rolls the
original directory back into place.

# Scheduling

Scheduler runs periodic backups for tenants that carry a cron schedule
in their record. Sync reconciles cron entries against the record store,
so enabling or disabling a tenant's backups takes effect on the next
sync without restarting the scheduler.
*/
package backup
