// Package generator rebuilds artifacts from current store state.
//
// Every operation renders before it writes, so a failed render never leaves a
// partial artifact behind. Re-running an operation against unchanged store
// state produces the same artifact content.
//
// # Page Assignment
//
// Generating a board page is also the only place thread pages are assigned:
// the threads shown on page n are stamped with page n. Because two
// generations touching the same board could race on those stamps, every
// board-level operation holds a per-board lock, and a board's pages are
// generated one at a time from the last page down to the first.
//
// # Iteration
//
// Boards and threads are walked through storage cursors by ForEach, which
// runs at most Options.Concurrency callbacks at once. The default of one
// keeps a single store query in flight.
package generator
