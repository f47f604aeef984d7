// Package tree implements the processing tree: a single rooted tree of
// stage instances that is executed once per scan point.
//
// Nodes live in a flat arena keyed by node id. Parent and child links are
// plain ids, so the tree owns every node and no node holds a pointer to
// another. A Tree is not safe for concurrent use; parallel runs work on
// independent copies obtained with Copy.
package tree
