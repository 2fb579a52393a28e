// Package download runs fetch jobs. Manager is the scheduler: a single
// goroutine that owns the pending queue and the active set, and dispatches
// jobs under a concurrency cap. Cascade executes one job, trying every
// credential profile with the video tool (go-ytdlp) and falling back to the
// image tool where the link calls for it.
package download
