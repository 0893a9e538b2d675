// Package main hosts the pagerender service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes GET /scrape, the preload endpoints, health probes, and /metrics. URLs
//     are validated and normalized before any cache or browser work happens.
//   - Fetch coordination: internal/fetch.Coordinator serves fresh entries from internal/cache and coalesces
//     concurrent misses for one URL onto a single render. A render is canceled only when every waiting caller has
//     gone away.
//   - Rendering: internal/render.Gateway bounds concurrent renders with a FIFO semaphore sized by
//     render.concurrency_limit, paces hosts through internal/policy/ratelimit, enforces the per-render timeout, and
//     relaunches the shared Chrome (internal/render/chromedp) when it dies.
//   - Preload: internal/preload.Manager re-renders the configured URLs every preload.refresh_interval_seconds with
//     bounded parallelism and publishes a refresh event per success to Pub/Sub when a topic is configured.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     collectors live in internal/metrics; OpenTelemetry spans wrap renders, fetches, and preload cycles.
//
// Operational notes:
//   - All state is process memory. The cache and preload set are lost on restart; the preload set is re-seeded from
//     configuration.
//   - Keep preload.refresh_interval_seconds below cache.ttl_seconds so preload entries never go stale.
//   - Cloud Run: the server listens on PORT, /readyz turns ready once Chrome answers, and SIGTERM drains requests
//     before the browser is closed.
//
// Quick checklist:
//   - Configure env vars: PORT, CONCURRENCY_LIMIT, PRELOAD_URLS (comma separated), or any PAGERENDER_* key such as
//     PAGERENDER_CACHE_TTL_SECONDS and PAGERENDER_PUBSUB_TOPIC_NAME.
//   - Run locally: go run . serve --config config.yaml
//   - Smoke-test Chrome: go run . render https://example.com
package main
