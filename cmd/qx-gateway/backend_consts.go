package main

import "time"

const (
	txQueueSize  = 1024 // capacity of the async serial TX ring
	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond
)
