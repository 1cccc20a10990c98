package orchestrator

import "fmt"

// CatalogError means an archive listing failed. It aborts the run before any archive is processed.
type CatalogError struct {
	Bucket string
	Prefix string
	Err    error
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("catalog listing %s/%s: %v", e.Bucket, e.Prefix, e.Err)
}

func (e *CatalogError) Unwrap() error { return e.Err }

// AcquisitionError means one archive could not be downloaded, opened or indexed.
// The archive is recorded with zero counts and the batch continues.
type AcquisitionError struct {
	Key   string
	Stage string
	Err   error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("%s archive %s: %v", e.Stage, e.Key, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }
