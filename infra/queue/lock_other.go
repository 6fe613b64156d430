//go:build !unix

package queue

import "os"

// No advisory locking outside unix; single-writer is by convention only.
func lockFile(*os.File) error { return nil }
