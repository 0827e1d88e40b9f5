// Package pending owns the queue of dataset manifests that have been
// discovered but not yet submitted to the transfer service.
//
// Producers (the arrival scanner and the injection API) deep-merge
// submissions into the queue; the batch submitter takes a snapshot, builds
// a batch from it, and drains exactly the files it submitted. Every
// mutation is mirrored to a JSON document written through
// fileutil.WriteDurable so the previous good copy survives as a .backup.
package pending
