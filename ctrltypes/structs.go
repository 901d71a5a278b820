// Package ctrltypes defines the wire types of the card control protocol,
// shared between the server and client packages.
package ctrltypes

import "fmt"

// ApiError represents an RFC 7807 (problem+json) error response.
type ApiError struct {
	// Status is the HTTP-style status code (e.g., 400, 404, 500)
	Status int `json:"status"`
	// Title is a short, human-readable summary of the problem type
	Title string `json:"title"`
	// Detail is a human-readable explanation specific to this occurrence
	Detail string `json:"detail"`
}

func (e ApiError) Error() string {
	if e.Status == 0 && e.Title == "" {
		return "unknown error"
	}
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Title, e.Detail)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Title, e.Detail)
}

// --

type PingResponse struct {
	Server  string `json:"server"`
	Version string `json:"version"`
}

// RegAccessResponse is returned for register reads and writes. Value holds
// the register content after the access.
type RegAccessResponse struct {
	Offset uint32 `json:"offset"`
	Value  uint32 `json:"value"`
}

// StatusResponse mirrors the card's status snapshot.
type StatusResponse struct {
	Locked        bool   `json:"locked"`
	ActualRate    uint32 `json:"actualRate"`
	PlaybackState string `json:"playbackState,omitempty"`
	CaptureState  string `json:"captureState,omitempty"`
	PlaybackIndex int    `json:"playbackIndex"`
	CaptureIndex  int    `json:"captureIndex"`
	PlaybackBytes uint64 `json:"playbackBytes"`
	CaptureBytes  uint64 `json:"captureBytes"`
	BufferLevel   int    `json:"bufferLevel"`
	CaptureLevel  int    `json:"captureLevel"`
	Underruns     uint64 `json:"underruns"`
	Overruns      uint64 `json:"overruns"`
	DMAErrors     uint64 `json:"dmaErrors"`
	ClockUnlocks  uint64 `json:"clockUnlocks"`
}

// IRQEvent is one line of the irq/watch stream.
type IRQEvent struct {
	Direction string `json:"direction"`
	Count     uint64 `json:"count"`
}
