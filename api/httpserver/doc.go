// Package httpserver provides the HTTP server shared by fedledger binaries.
//
// BaseServer wraps a chi router with request logging, panic recovery,
// optional CORS, health endpoints and graceful shutdown. Components add
// their own endpoints by implementing RouteRegistrar.
//
// # Health and Diagnostics
//
// Every server exposes:
//
//   - Liveness Check: /livez always answers 200 while the process runs
//   - Readiness Check: /readyz answers 503 after /drain until /undrain
//   - Profiling: pprof endpoints under /debug when EnablePprof is set
//
// When MetricsAddr is set, a second listener serves the Prometheus registry
// from Metrics on /metrics, apart from the API router.
//
// # Usage Example
//
//	func (h *MyHandler) RegisterRoutes(r chi.Router) {
//	    r.Get("/api/resource/{id}", h.HandleGetResource)
//	}
//
//	srv, err := httpserver.New(cfg, handler)
//	if err != nil {
//	    return err
//	}
//	srv.RunInBackground()
//	defer srv.Shutdown()
//
// Shutdown marks the server not ready, waits DrainDuration so load balancers
// notice, then gives in-flight requests GracefulShutdownDuration to finish.
package httpserver
