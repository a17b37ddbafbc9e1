// Package chart turns fetched records into a serialized chart.
//
// Generator asks the model for Plotly code given the record columns, row
// count and one sample record, then runs the code in a Sandbox that exposes
// only the records as data and expects the figure bound to fig.
//
// Two sandboxes are provided. DockerSandbox runs each chart in a throwaway
// container without network, capabilities or a writable root filesystem.
// ProcessSandbox runs a local interpreter under a deadline and is meant for
// development. Both restrict imports to AllowedModules and strip file and
// eval builtins from the code's scope.
//
// Generation failures are *errors.ChartGenerationFault and never abort a
// turn.
package chart
