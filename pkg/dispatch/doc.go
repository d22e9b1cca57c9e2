// Package dispatch carries service requests to registered microservices over
// HTTP and provides a standalone agent gateway for deployments without a
// broker connection.
package dispatch
