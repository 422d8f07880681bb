// Package queue defines the durable task contract between pipeline stages
// and provides Pub/Sub and in-memory implementations.
package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Topic names a task stream. Each stage consumes exactly one topic.
type Topic string

const (
	TopicDiscovery    Topic = "discovery"
	TopicValidate     Topic = "validate"
	TopicScrape       Topic = "scrape"
	TopicExtractTier1 Topic = "extract-tier1"
	TopicExtractTier2 Topic = "extract-tier2"
	TopicRollup       Topic = "rollup"
)

// DeadLetter returns the dead-letter topic paired with t.
func (t Topic) DeadLetter() Topic {
	return t + ".dlq"
}

// Task is the unit of work carried on a topic. Fields beyond the envelope
// are topic-specific; unused ones stay empty.
type Task struct {
	ID         string    `json:"id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	SourceID   string `json:"source_id,omitempty"`
	RawID      string `json:"raw_id,omitempty"`
	JobID      string `json:"job_id,omitempty"`
	CompanyID  string `json:"company_id,omitempty"`
	SourceType string `json:"source_type,omitempty"`
	Limit      int    `json:"limit,omitempty"`

	// LastError records why the task is being redelivered or dead-lettered.
	LastError string `json:"last_error,omitempty"`
}

// Encode serializes the task for transport.
func (t Task) Encode() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	return data, nil
}

// DecodeTask parses a transported task.
func DecodeTask(data []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	return t, nil
}
