// Package blob stores raw uploads, stage intermediates, and final outputs.
//
// Access always goes through time-limited grants: ReadURL/WriteURL issue a
// URL, Upload/Download move bytes through it. LocalStore signs local:// URLs
// with HMAC-SHA256 and keeps containers as directories under a root;
// GCSStore maps containers to buckets and issues V4 signed URLs. Client adds
// the retry budget for transient failures and the path helpers build the
// tenant-scoped layout shared by every stage.
package blob
