// Package dispatch turns "/plugin:command args" input into a model invocation.
//
// Each invocation moves through:
//
//	Parsed -> InputsCollected -> Built -> Dispatched
//	   |            |
//	   +-> Rejected +-> Abandoned (cancelled) or Rejected
//
// Inline arguments fill the command's first input slot. Any remaining slots are
// requested from an InputProvider, which may block until the user answers;
// cancelling its context abandons the invocation with no side effects. Only
// after the payload is built are the owning plugin's connectors started, in
// the background, so dispatch never waits on a connector.
//
// Autocomplete is a read-only query over enabled plugins' commands.
package dispatch
