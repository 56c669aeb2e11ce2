// Package ir provides the value model shared by every layer of choreo.
//
// This package contains type definitions and pure functions only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - use int64 for numbers
//   - Records are IRObject values; failures carry the reserved "error" field
//   - Logical clocks (seq) only, never wall-clock timestamps in identities
//   - All JSON tags use snake_case
package ir
