// Package api provides the HTTP REST API and WebSocket server for the stove.
//
// Read routes serve the controller's cached snapshot, its parameters, the
// recorded state history and the weekly schedule. Mutating routes drive the
// controller's actions and reply with the refreshed snapshot; when
// security.jwt.secret is set they require an HS256 bearer token.
//
//	GET  /api/v1/health
//	GET  /api/v1/stove
//	GET  /api/v1/stove/parameters
//	GET  /api/v1/stove/history?limit=50&since=2026-03-01T00:00:00Z
//	GET  /api/v1/stove/schedule
//	POST /api/v1/stove/{on,off,reset,refresh}
//	PUT  /api/v1/stove/parameters/{id}     {"value": 55}
//	PUT  /api/v1/stove/temperature         {"value": 21.5}
//	POST /api/v1/stove/schedule/{enable,disable}
//	POST /api/v1/auth/login                {"password": "..."}
//	POST /api/v1/auth/ws-ticket
//	GET  /api/v1/ws                        (subscribe to "stove.state_changed")
//	GET  /metrics                          (Prometheus)
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	ctrl.OnPoll(server.ObservePoll)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
