// Package board implements the board snapshot store.
//
// The store holds two views of one task board: the remote snapshot,
// which is the last known-good state received from the server, and the
// display snapshot, which is what the UI renders. The two are identical
// except while a speculative mutation is outstanding. Remote updates
// always overwrite the remote view; the display view is reconciled
// per task so a broadcast cannot clobber an unrelated in-flight local
// edit.
package board
