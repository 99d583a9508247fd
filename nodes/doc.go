// Package nodes provides the built-in node kinds for storyflow canvases:
// prompt sources, image sources, transforms, composite-grid generators,
// shot/reverse-shot, and result display.
//
// The package has two halves:
//
//   - A registry of kind builders. Each kind carries Metadata describing
//     its category, configuration schema, and examples; configs are
//     validated against the schema before a node is built from a canvas
//     definition.
//
//   - Per-kind state machines. A Machine drives one node through its
//     lifecycle (idle → uploading → analyzing → ready → generating →
//     ready|error) by combining the graph, the orchestrator, the
//     resolver, and the normalization chain. Machines enforce the
//     per-kind generation gates; result nodes never self-initiate.
package nodes
