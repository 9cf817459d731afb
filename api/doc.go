// Package api documents the checkpointd HTTP API in this comment; it
// contains no code.
//
// # API Overview
//
// checkpointd provides a RESTful API for:
//   - Checkpoint definition management (admin-plane, JWT-protected)
//   - Per-task checkpoint resolution and lifecycle (data-plane, API-key-protected)
//   - Health monitoring and metrics
//
// # Authentication
//
// Data-plane endpoints under /tasks/{task_id}/checkpoints* require the
// X-API-Key header:
//
//	X-API-Key: your-api-key
//
// Admin-plane endpoints under /checkpoints/definitions* require a JWT
// bearer token whose roles claim contains "admin":
//
//	Authorization: Bearer <token>
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
package api
