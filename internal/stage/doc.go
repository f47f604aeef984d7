// Package stage defines the contract every processing stage implements.
//
// A stage is one unit of a reduction chain: an Input stage produces the
// payload for a scan point, Processing stages transform it and Output stages
// persist it. Stages are described by a Descriptor (names, kind, declared
// dimensionality and parameter schema) and instantiated by a Factory that a
// stage package registers with the plugin registry.
//
// The engine never looks inside payloads. It only asks them for their shape,
// so any type implementing Payload can travel through a chain.
//
// # Errors
//
// A stage signals operator-fixable problems (missing or invalid parameters,
// unreachable paths, degenerate bounds) with a *UserConfigError. Every other
// error returned from Prepare or Process is treated as fatal for the run.
package stage
