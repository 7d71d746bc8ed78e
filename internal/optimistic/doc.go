// Package optimistic implements the optimistic update coordinator.
//
// A mutation is applied speculatively to the board store and returned
// to the caller immediately; the confirming REST call runs in the
// background. On success the speculative state is kept, unless a
// broadcast for the task arrived first, in which case the broadcast's
// fields win and the confirmation is not merged over them. On failure
// or timeout the display snapshot is rolled back to the state captured
// before the mutation and no automatic retry is attempted.
//
// At most one mutation per task is pending at a time. A second
// mutation on the same task supersedes the first: the earlier
// mutation's eventual outcome is reported but no longer touches the
// store.
package optimistic
