// Package assembler builds the bounded instructional text sent to the model for
// a turn from the enabled plugins and the live connection registry.
//
// # Sizes
//
// Sizes are estimated tokens: ceil(runes/4). The estimate is applied to the
// whole output, and the assembler tracks the exact rune count of the text it
// would render, so a unit is accepted only if the final text stays within the
// budget.
//
// # Content Units
//
// Mandatory content is always included, even when it alone exceeds the budget
// (Truncated is still reported):
//
//   - every enabled plugin's local configuration, verbatim
//   - degradation notes for ~~category placeholders whose connection is not
//     available, and load problems of enabled plugins
//
// Optional units are atomic and considered in this order:
//
//  1. skills of the plugin most relevant to the hint (keyword overlap)
//  2. skills referenced by the command being dispatched
//  3. one command/connection listing per plugin
//  4. every remaining skill in registration order
//
// The first unit that does not fit stops the scan. When anything was dropped
// and room remains, a short truncation notice is appended.
//
// # Output Order
//
// Regardless of consumption order, sections render as: local configuration,
// notices, listings, skills, truncation notice.
//
// # Placeholders
//
// RenderPlaceholders is a pure function. Stored skill text is never modified.
// A connection that is unresolved or starting counts as unavailable.
package assembler
