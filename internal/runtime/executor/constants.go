package executor

// DefaultStreamBufferSize is the maximum buffer for SSE stream scanning.
// Large tool-call argument deltas can produce very long lines.
const DefaultStreamBufferSize = 20 * 1024 * 1024

// DefaultScannerBufferSize is the initial scanner buffer size. Each streaming
// request reuses a pooled 64KB buffer instead of allocating a new one.
const DefaultScannerBufferSize = 64 * 1024
