// Package build is the incremental build engine.
//
// A Context models the project's source tree as a node.Tree, reconciles it
// with the real filesystem lazily (Rescan), keeps content signatures per
// variant, materialises declared generators into tasks in barrier groups
// (Flush), runs them (Compile), and persists what it learned so the next run
// only redoes stale work. Install and uninstall share the same code path so
// that what one run installs another can remove.
//
// A Context is not safe for concurrent use. The parallel runner calls back
// into it only from its coordinating goroutine.
package build
