// Package grpc serves the standard gRPC health checking protocol. The
// reported status follows the worker pool health monitor.
package grpc
