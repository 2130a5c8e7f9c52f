// Package platform normalizes exported chat transcripts from the major AI
// chat platforms into a single schema. It provides a closed registry of
// per-platform parsers, URL/content based platform detection, and a generic
// markdown extractor used as the last-resort parsing strategy.
//
// Parsing never fails on malformed content: every strategy degrades toward
// the markdown extractor, and the terminal failure signal is a conversation
// with zero messages. Callers at the ingestion boundary reject those.
package platform
