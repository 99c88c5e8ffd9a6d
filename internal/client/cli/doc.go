// Package cli provides the interactive coursekeeper command-line client.
//
// It unlocks the content keys from the user's passphrase, wires the vault,
// the fetch scheduler and the stream server, and runs them next to a REPL
// until the user exits:
//
//   - add / list / pause / resume / cancel / retry manage download tasks
//   - play opens a local stream URL for cached media
//   - read prints cached text
//   - stats / sweep / remove look after the vault
//
// The REPL is started via App.Run(ctx), which blocks until the user exits
// or ctx is cancelled. See App and runREPL for details.
package cli
