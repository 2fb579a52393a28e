// Package model defines the domain data structures shared across the app:
// fetch jobs, their status state machine, credential profiles, duplicate
// policies, execution outcomes and the events emitted while jobs run.
package model
