package models

import "time"

// DepthOutcomes counts frontier outcomes at one BFS depth.
type DepthOutcomes struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Duplicates int `json:"duplicates"`
}

// CrawlReport summarises one crawl run. Failed includes validation rejects,
// which are also counted in Filtered. Found counts seeds plus every enqueued
// reference.
type CrawlReport struct {
	RunID            string                `json:"run_id,omitempty"`
	State            string                `json:"state"`
	Found            int                   `json:"found"`
	Processed        int                   `json:"processed"`
	Successful       int                   `json:"successful"`
	Failed           int                   `json:"failed"`
	Filtered         int                   `json:"filtered"`
	Duplicates       int                   `json:"duplicates"`
	Skipped          int                   `json:"skipped"`
	DepthReached     int                   `json:"depth_reached"`
	ByDepth          map[int]DepthOutcomes `json:"by_depth"`
	Checkpoints      int                   `json:"checkpoints"`
	CheckpointErrors int                   `json:"checkpoint_errors"`
	SnapshotSize     int                   `json:"snapshot_size"`
	Duration         time.Duration         `json:"duration"`
}
