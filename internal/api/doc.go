// Package api hosts the HTTP server, middleware, and handlers. Routes:
//   - GET /scrape?url= returns the rendered page as text.
//   - GET /preload/list and POST /preload/update manage the preload set.
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
