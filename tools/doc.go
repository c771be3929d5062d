// Package tools provides the capabilities an agent can invoke against a
// workspace: file reads and writes, string edits, directory listing, glob and
// content search, and shell execution. A Registry holds the capabilities and
// validates call arguments against each capability's JSON Schema before
// anything touches the filesystem.
//
// Every failure is a ToolError with a kind from a closed taxonomy, so callers
// can report failures back to the model without aborting the conversation.
package tools
