// Package transcript records the message streams of conversations.
//
// A Recorder keeps the messages of each conversation in the order they were
// consumed, so the causal graph of a run can be rebuilt after the fact.
// Recorders are in-memory; add persistent backends in sub-packages without
// changing calling code.
package transcript
