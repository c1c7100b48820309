// Package websocket provides real-time run streaming via WebSocket.
//
// Clients connect to /api/v1/runs/:id/ws and receive the run snapshot
// followed by every later node transition and the terminal run event.
package websocket
