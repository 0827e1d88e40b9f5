// Package downstream is the HTTP client for the data-management service that
// receives completed transfers: collections, datasets, file references and
// JSON-LD metadata.
//
// Every call authenticates with the API key query parameter plus basic
// auth. Failures come back as *StatusError; Retryable separates 5xx and
// transport problems from client errors so the ingestion step can choose
// between RETRY and ERROR annotations.
package downstream
