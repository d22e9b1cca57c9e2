// Package stores provides persistence layer implementations for Fleetyard.
// It includes SQLite-based storage with WAL mode, connection pooling, and
// conditional status updates for work processes, service requests,
// assignments, mission queues, and the microservice registry.
package stores
