/*
Package runtime drives tenant containers through the docker compose CLI.

The compose CLI is deliberately the only interface to the container
engine: CachePilot shells out rather than speaking the engine API, so
whatever compose supports (engine versions, remote contexts) works
unchanged. Commands run in the tenant's directory against its generated
manifest, under a per-tenant project name.

# Commands

	Apply          docker compose -p cachepilot-<t> up -d
	Stop           docker compose -p cachepilot-<t> stop
	Start          docker compose -p cachepilot-<t> start
	Restart        docker compose -p cachepilot-<t> restart
	ForceRecreate  docker compose -p cachepilot-<t> up -d --force-recreate
	Down           docker compose -p cachepilot-<t> down
	State          docker inspect -f '{{.State.Status}}' redis-<t>
	WaitHealthy    docker inspect -f '{{.State.Health.Status}}' redis-<t>
	ExecEngine     docker exec redis-<t> redis-cli ...

A non-zero exit surfaces as ExternalToolError carrying the tool's own
output, which is usually the only useful diagnostic.

# Health Waits

WaitHealthy polls the container's health status until it reports
healthy or the configured timeout elapses. The two failure shapes are
distinct errors with distinct severities:

  - ErrContainerAbsent: the apply did not produce a container. Fatal.
  - ErrHealthTimeout: the container exists but never confirmed healthy.
    Callers report a warning; the container may still converge.

# Testing

The Runner interface abstracts command execution. Tests inject a fake
runner and assert on the exact command lines instead of needing a
container engine.
*/
package runtime
