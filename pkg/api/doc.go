// Package api serves the GGnet control plane over HTTP: a resource
// oriented /v1 REST surface, a WebSocket event stream, and the
// health/ready/metrics endpoints.
//
// # Endpoints
//
//	POST   /v1/images                      begin an upload, returns {token, image}
//	PUT    /v1/images/{token}/chunk        append raw bytes at Upload-Offset
//	POST   /v1/images/{token}/finalize     close the stream, verify, convert
//	POST   /v1/images/{token}/abort        drop the stream and its bytes
//	GET    /v1/images[/{id}]               list / fetch
//	DELETE /v1/images/{id}                 soft archive (409 while referenced)
//
//	POST   /v1/machines                    register a machine
//	GET    /v1/machines[?mac=]             list, or resolve one MAC
//	GET    /v1/machines/{id}               fetch
//	PUT    /v1/machines/{id}               update (renames refused while booted)
//	DELETE /v1/machines/{id}               delete (refused while booted)
//	GET    /v1/machines/{id}/boot-script   current iPXE script, text/plain
//
//	POST   /v1/sessions                    start a diskless boot {machine_id, image_id}
//	POST   /v1/sessions/{id}/stop          tear the boot chain down
//	GET    /v1/sessions[/{id}]             list / fetch
//	GET    /v1/targets                     list iSCSI target rows
//
//	POST   /v1/users                       create user, returns the token once
//	GET    /v1/users                       list (tokens never serialize)
//	DELETE /v1/users/{id}                  delete (last admin protected)
//
//	GET    /v1/events                      WebSocket stream of broker events
//	GET    /health /ready /metrics         unauthenticated operational endpoints
//
// # Authentication
//
// Every /v1 route wants "Authorization: Bearer <token>". Reads require
// any authenticated user, mutations require OPERATOR or ADMIN, and user
// management requires ADMIN. The first token comes from
// auth.bootstrap_token in the server configuration.
//
// # Errors
//
// Non-2xx responses carry {"code", "message"}; the code is the stable
// taxonomy name from pkg/errdefs (NOT_FOUND, CONFLICT,
// PRECONDITION_FAILED, PROTOCOL_ERROR, CONFIG_REJECTED, ...) and the
// status is its HTTP mapping. Clients branch on the code, not on the
// message.
//
// # Event stream
//
// /v1/events upgrades to a WebSocket and forwards every broker event as
// one JSON frame. Delivery is best-effort per subscriber: a client that
// stops reading loses events rather than slowing the daemon.
package api
