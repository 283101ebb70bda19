// Package serialization implements the versioned binary model container.
//
// A container holds a model's input and output names plus the bytes of its
// files: a single graph definition for a frozen model, or the graph
// definition and variable files of a saved model.
//
//	Format Structure (version 2):
//	  [4 bytes: Magic "TFXM"]
//	  [4 bytes: Version (uint32 LE)]
//	  [4 bytes: Flags (uint32 LE)]
//	  [4 bytes: Reserved]
//	  [8 bytes: Header Size (uint64 LE)]
//	  [8 bytes: Data Size (uint64 LE)]
//	  [32 bytes: SHA-256 of the data section]
//	  [Header: JSON]
//	  [Data: entry bytes, 64-byte aligned start]
//
// Version 1 containers predate saved-model support. Their fixed header is
// magic, version, flags and header size with no checksum, and their JSON
// header names a single output. They always hold a frozen graph.
//
// Example usage:
//
//	payloads := []serialization.Payload{serialization.BytesPayload("graph.pb", graphDef)}
//	header := serialization.Header{Frozen: true, Inputs: inputs, Outputs: outputs}
//	if err := serialization.Write(w, header, payloads, serialization.WriterOptions{}); err != nil {
//	    return err
//	}
//
//	r, err := serialization.OpenFile("model.tfxm", serialization.ReaderOptions{})
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//	graphDef, err := r.ReadEntry("graph.pb")
package serialization
