// Package files stages uploaded exports until the ingestion run that owns them
// has processed them.
//
// Two Store drivers exist: Manager keeps files under a local directory and
// S3Store keeps them in an S3 compatible bucket. Stage writes a file to either
// and returns the metadata recorded on the upload, including an xxhash64
// checksum of the content. Discovery finds exports in a local directory for the
// ingest command.
package files
