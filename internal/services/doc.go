// Package services holds the error taxonomy and context plumbing shared by
// the job queue, the pipeline stages, and the modules that plug into them.
package services
