// Package scheduler wires the recurring jobs of the platform:
//   - Daily price ingestion after the US session close
//   - Forecast generation once fresh closes are in
//   - Prediction validation and accuracy refresh
//   - Intraday quote refresh feeding the realtime hub and the quote cache
//   - Periodic news refresh into the news store
//   - Weekly cleanup of stale rows and old news documents
//
// The jobs are implemented in jobs.go
package scheduler
