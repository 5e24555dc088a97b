// Package middleware groups the Fiber middleware of the status server.
//
//   - auth: checks the X-API-Key header, optionally only on mutating requests.
//   - rayid: assigns every request a ray id, stored in the "ray_id" local that
//     logger.WithRayID reads.
package middleware
