// Package history persists what the bridge has seen and done.
//
// Two tables back it: state_history holds one row per normalised field
// change observed by the poller, and command_log holds one row per device
// command with its outcome. Both are pruned by age.
//
// The package is optional. When the database is disabled the bridge simply
// runs without a recorder.
package history
