// Package ingestion turns staged upload batches into versioned financial
// records.
//
// The Orchestrator runs one claimed upload: every staged file is decoded,
// parsed and assembled into monthly records, each record is validated, its
// clinic resolved and the record written through the version store. Failures
// are contained at the smallest unit they affect: a malformed file is recorded
// and its siblings still run, an invalid or unwritable record is recorded and
// the rest of its file still runs. Only failures outside that handling fail
// the batch as a whole.
//
// Service is the entry point used by the HTTP layer and the CLI. It stages
// files, creates the pending upload that serves as the durable job record and
// hands it to the job queue.
package ingestion
