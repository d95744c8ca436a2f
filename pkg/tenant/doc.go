/*
Package tenant persists tenant records as flat files.

Each tenant owns a directory under the tenants root, and the record is a
config.env file of KEY=value lines inside it. The record is the single
source of truth: every other artifact (engine config, manifest,
certificates) can be regenerated from it, and the whole tenant survives
a host migration as a plain directory copy.

# Layout

	<tenants root>/
	  acme/
	    config.env           the record
	    redis.conf           generated
	    docker-compose.yml   generated
	    certs/               issued
	    data/                engine data

Known keys are written in a canonical order so records diff cleanly.
Unknown keys found on disk are preserved across rewrites: operators can
annotate a record by hand without CachePilot erasing the annotation on
the next operation. Writes go to a temporary file first and are renamed
into place.

Lookups of a missing tenant return ErrTenantNotFound.
*/
package tenant
