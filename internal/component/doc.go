// Package component defines the capability interface that task owners and
// call targets implement, the tagged parameter values exchanged with them,
// and a registry that resolves component names to implementations. Remote
// components are reached over NATS request/reply.
package component
