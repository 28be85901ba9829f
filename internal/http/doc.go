// Package http provides HTTP handlers and middleware for the roster API.
//
// The router exposes the following endpoints:
//   - POST /people: registers or refreshes a person. Body: {"external_id","username",
//     "first_name","last_name"}.
//   - PUT /people/{external_id}/subscription: body {"subscribed"}.
//   - GET /people: every known person, subscribed or not.
//   - GET /stats: people and active session counts plus the registrations of the
//     nearest session.
//   - GET /sessions, POST /sessions, POST /sessions/next: list active sessions, open
//     the session for {"date":"YYYY-MM-DD"} (idempotent) or for the next training day.
//   - GET /sessions/{id}, DELETE /sessions/{id}: fetch or cancel one session.
//   - GET /sessions/{id}/roster: the allocated roster with rendered lines.
//   - POST /sessions/{id}/join, /leave, /reduce and PUT /sessions/{id}/capacity:
//     roster operations answering with the `resultDTO` payload of roster_handler.go.
//   - POST /sessions/{id}/presence, /reminders, /auto-leave: attendance tracking.
//   - POST /maintenance/expire: marks started sessions past and purges old ones.
//   - GET /settings, PUT /settings: runtime roster policy.
//   - GET /metrics, GET /healthz.
//
// Failures answer with {"error_code","message","errors"} where error_code is the
// result tier of the failed operation.
package http
