// Package http exposes sessions, the debugger and the package query over a
// JSON command interface served by gin.
//
// Routes take the session GUID as :id. Evaluation results are returned as
// display records (see internal/debugger/property); clients drill into a
// value by posting a record's full_name back to the children route.
//
// Example Usage:
//
//	handlers := http.NewHandlers(http.Deps{Provider: provider, Pool: pool})
//	handlers.Register(router)
package http
