/*
Package session serializes turns per conversation.

A Manager pairs a reference-counted in-process mutex per conversation with
an optional ports.DistributedLocker, so replicas sharing a store never run
two turns of the same conversation at once.
*/
package session
