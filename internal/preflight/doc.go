// Package preflight provides readiness checks for the engine binaries,
// model files, and filesystem paths the daemon depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll once at startup and logs every failure before
//     serving; a misconfigured host degrades the affected capability instead
//     of crashing the process.
//   - The CLI "atelier status" command uses the same checks to display host
//     health.
package preflight
