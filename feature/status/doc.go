// Package status exposes a running sync over HTTP.
//
// # HTTP Endpoints
//
//   - GET /status : Engine state, tree size and queue depths.
//   - GET /status/transfers : Queued and active transfers, downloads first.
//   - GET /status/plan : What a comparison with the remote would do now.
//   - POST /status/suspend : Pause scanning and monitoring.
//   - POST /status/resume : Leave the suspended state with a full scan.
//   - POST /status/rescan : Rescan a folder (?path=dir) or the whole root.
//   - GET /metrics : Prometheus metrics.
package status
