// Package ws streams profile snapshots over WebSocket.
//
// A connection subscribes to one profile. The server pushes the current
// snapshot on connect (loading one first if none was published) and every
// later snapshot, so a client always converges on the last published list.
//
// Message Types (Client → Server):
//   - ping: Keep-alive ping
//   - refresh: Reload the profile
//
// Message Types (Server → Client):
//   - connected: Subscription established
//   - snapshot: A published snapshot
//   - result: A lifecycle result for the profile
//   - pong: Reply to ping
//   - error: Unknown request
//
// Example Usage:
//
//	handler := ws.NewHandler(reg, metrics, logger)
//	router.GET("/profiles/:id/watch", handler.HandleConnection)
package ws
