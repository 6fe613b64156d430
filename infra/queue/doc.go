// Package queue implements the durable record queue that backs a rollback
// journal.
//
// A queue is a single file holding a sequence of frames:
//
//	[len:4 LE][crc32:4 LE][payload]
//
// There is no file header. Every mutation is synced before it returns.
// A frame that was only partly written when the process died is detected on
// open and truncated away; a checksum mismatch anywhere but on the last frame
// is reported as ErrCorrupt.
package queue
