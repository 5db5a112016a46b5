// Package task defines the units of work the build schedules and the manager
// that orders them.
//
// # Generators and tasks
//
// A Generator is a declaration from a build script ("compile hello.c into
// hello.o for every variant"). Nothing happens when it is declared. When the
// build decides the generator is in scope it calls Post, which resolves the
// generator's inputs against the node tree and returns concrete Tasks.
//
// A Task is one command invocation with known inputs and outputs. The runner
// asks each task whether it must run (RunnableStatus), runs it on a worker
// (Run), and records its results (PostRun). RunnableStatus and PostRun are
// always called from the coordinating goroutine, never concurrently, so they
// may read and write the build's signature stores freely.
//
// # Groups
//
// The Manager keeps generators and tasks in ordered groups. A group is a
// barrier: no task of a later group is examined before every task of an
// earlier group has finished.
package task
