/*
Package events provides an in-memory broker for CachePilot operation
events.

Every mutating tenant operation publishes an event (created, removed,
mode changed, password rotated, certificate renewed, and so on).
Subscribers receive events on buffered channels; a slow subscriber
drops events rather than blocking the publisher, so the broker can sit
on the hot path of provisioning without ever stalling it.
*/
package events
