// Package images runs the image pipeline: chunked uploads into a
// staging area, asynchronous conversion to raw, and atomic promotion
// into the image root targets boot from.
//
// # Layout
//
//	<root>/<id>.raw        promoted images, one file per READY image
//	<root>/.staging/       uploads and conversions in flight
//
// # Upload protocol
//
// BeginUpload creates the UPLOADING row and an exclusive staging file,
// returning a token. AppendChunk writes strictly contiguous chunks and
// feeds a running SHA-256; any gap or overlap is a protocol error,
// because the hash cannot be rewound. FinalizeUpload checks the byte
// count against the declared size and promotes: RAW renames into the
// root and goes READY with its checksum in the same transaction as the
// status flip, other formats enqueue a conversion job and go
// PROCESSING. The rename always happens before the READY flip, so a
// reader who observes READY finds bytes matching the recorded checksum.
//
// # Conversion
//
// Jobs are rows in the store keyed by image ID, which makes them
// idempotent: re-enqueueing an existing job is a no-op, and re-running
// a DONE job never happens because workers take jobs with a
// compare-and-set claim. A fixed pool of workers transcodes with
// qemu-img, verifies the output really is raw, hashes it, renames, and
// flips image and job state together. Jobs found RUNNING at startup are
// crash leftovers: they get one retry, then fail.
//
// Upload sessions live in memory, so a restart strands their rows:
// FailInterruptedUploads marks them ERROR and sweeps staging files no
// session and no queued job references anymore.
//
// # Immutability
//
// A READY image never changes. Archive soft-deletes the row and
// removes the bytes, and refuses while a live target still reads the
// file. VerifyChecksum re-hashes the file against the recorded checksum
// for corruption checks.
package images
