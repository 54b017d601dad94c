// Package frames captures periodic screen frames and ships them as archives.
//
// Frames are rendered by the host, masked where regions are sanitized,
// scaled to the target width and written as JPEG files named by capture
// time. Every ChunkSize frames the pipeline seals a tar.gz archive of the
// oldest unsealed frames and uploads every archive still on disk. Archives
// that fail to upload stay on disk until the next sweep.
package frames
