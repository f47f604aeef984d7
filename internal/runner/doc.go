// Package runner drives a processing tree across the scan points of a run.
//
// A run fans its scan points out to a bounded number of workers. Every
// worker owns an independent copy of the tree, prepared once, so stages
// never see concurrent calls. Results are keyed by scan-point index and
// arrive in no particular order.
//
// Design decision: We use errgroup with SetLimit, the same way batch scans
// were processed before, and keep a pool of prepared tree copies next to
// it. A copy per worker rather than per point keeps the prepare cost
// independent of the number of scan points.
package runner
