// Package server provides the kettle HTTP server.
//
// A Server owns one listener and one routing table. Every route names a transport:
//   - http: plain request/response
//   - ws: a WebSocket where each inbound message is handled on its own
//   - socket-event: a WebSocket carrying a single request event and its reply
//
// Built-in endpoints (/health, /status and the metrics path) are served by gin
// directly; everything else falls through to the routing table, which matches routes
// in registration order. A path that matches no route is answered with 404 and one
// with a malformed percent-escape with 400, both as error frames.
//
// Usage:
//
//	srv, err := server.New(cfg, logger)
//	if err != nil {
//		return err
//	}
//	if err := srv.Start(ctx); err != nil {
//		return err
//	}
//	<-srv.OnListen()
//	defer srv.Stop(context.Background())
package server
