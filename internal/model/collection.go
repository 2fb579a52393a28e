package model

import (
	"sort"
	"strings"
)

// UnknownHandle is used wherever an account handle could not be determined
const UnknownHandle = "Unknown"

// CollectionLabel returns the folder label for a collection: "{origin} - {handle}".
// An empty origin becomes manual and an empty handle becomes Unknown.
func CollectionLabel(origin Origin, handle string) string {
	o := strings.TrimSpace(string(origin))
	if o == "" {
		o = string(OriginManual)
	}
	h := strings.TrimSpace(handle)
	if h == "" || strings.EqualFold(h, "unknown") {
		h = UnknownHandle
	}
	return o + " - " + h
}

// Collection groups the jobs that share a platform, origin and handle
type Collection struct {
	Platform Platform `json:"platform"`
	Origin   Origin   `json:"origin"`
	Handle   string   `json:"handle"`
	Jobs     []*Job   `json:"jobs"`
}

// Label returns the collection's folder label
func (c *Collection) Label() string {
	return CollectionLabel(c.Origin, c.Handle)
}

// Counts returns the number of jobs per status
func (c *Collection) Counts() map[Status]int {
	counts := make(map[Status]int, len(AllStatuses))
	for _, job := range c.Jobs {
		counts[job.Status]++
	}
	return counts
}

// GetPendingJobs returns jobs that have not been dispatched yet
func (c *Collection) GetPendingJobs() []*Job {
	var pending []*Job
	for _, job := range c.Jobs {
		if job.Status == StatusBacklog || job.Status == StatusQueued {
			pending = append(pending, job)
		}
	}
	return pending
}

// GetProgress returns the share of finished jobs as a percentage
func (c *Collection) GetProgress() float64 {
	if len(c.Jobs) == 0 {
		return 0
	}
	done := 0
	for _, job := range c.Jobs {
		if job.Status.IsFinished() {
			done++
		}
	}
	return float64(done) / float64(len(c.Jobs)) * 100
}

// HasErrors checks if any job in the collection failed
func (c *Collection) HasErrors() bool {
	for _, job := range c.Jobs {
		if job.Status == StatusError {
			return true
		}
	}
	return false
}

// GroupCollections buckets jobs into collections, preserving the order in
// which each job appears inside its collection. Collections are sorted by
// platform then label.
func GroupCollections(jobs []*Job) []*Collection {
	type key struct {
		platform Platform
		label    string
	}
	index := make(map[key]*Collection)
	var out []*Collection
	for _, job := range jobs {
		k := key{job.Platform, CollectionLabel(job.Origin, job.Handle)}
		c, ok := index[k]
		if !ok {
			c = &Collection{Platform: job.Platform, Origin: job.Origin, Handle: job.Handle}
			index[k] = c
			out = append(out, c)
		}
		c.Jobs = append(c.Jobs, job)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		return out[i].Label() < out[j].Label()
	})
	return out
}
