// Package embeddings provides embedding generation for knowledge chunks.
//
// Two providers implement the same interface: FastEmbed runs local ONNX
// sentence-embedding models (cgo builds only), and Hash produces a
// deterministic hashed bag-of-words vector requiring no model at all. The
// hash provider is bit-stable across processes, which keeps index and
// retrieval tests reproducible regardless of what is installed.
package embeddings
