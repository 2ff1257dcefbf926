// Package model holds the value types shared by every session component.
//
// This package contains type definitions and their validation only. All
// other internal packages import model; model imports nothing internal.
//
// Key design constraints:
//   - Provider records are immutable once received from a directory
//   - Coordinates carry their provenance (live fix or fallback)
//   - All JSON tags use camelCase to match the presentation payloads
package model
