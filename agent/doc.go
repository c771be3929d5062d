// Package agent implements the interactive coding agent core: a session that
// holds an append-only conversation, the turn loop that streams model output,
// executes requested tools, and feeds results back until the model produces a
// final answer, and the compaction that keeps long conversations inside the
// model's context window.
//
// The loop talks to backends through llmwire and runs tools through the tools
// package; the host application consumes a channel of DisplayEvents to render
// progress in real time.
package agent
