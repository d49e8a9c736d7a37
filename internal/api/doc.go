// Package api hosts the operator HTTP server. Notable routes:
//   - GET /healthz / readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/sessions and /v1/sessions/{job_id} to start, inspect and stop
//     watch sessions.
//   - GET /v1/history and /v1/history/{session_id} for the session registry.
//   - /v1/monitor for the monitoring dashboard, when configured.
package api
