// Package events provides the one-way event stream long operations use to
// report progress. Scans, engine passes and validation runs publish onto a
// Hub; a CLI or any other front end subscribes without the core knowing
// who is listening.
package events

import "time"

// EventType identifies the category of event.
type EventType string

const (
	// Discovery
	EventScanProgress EventType = "scan.progress"
	EventDeviceSeen   EventType = "scan.device"

	// Policy engine
	EventEngineProgress EventType = "engine.progress"

	// Enforcement validation
	EventValidateProgress EventType = "validate.progress"
	EventPairResult       EventType = "validate.pair"

	// Configuration export
	EventConfigGenerated EventType = "export.generated"
)

// Event is the core message passed through the event bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Data      any       `json:"data"`
}

// ProgressData is the payload for every *.progress event.
type ProgressData struct {
	Phase   string  `json:"phase"`
	Message string  `json:"message"`
	Percent float64 `json:"percent"`
}

// DeviceSeenData is the payload for EventDeviceSeen.
type DeviceSeenData struct {
	IP        string `json:"ip"`
	Hostname  string `json:"hostname,omitempty"`
	OpenPorts []int  `json:"open_ports,omitempty"`
}

// PairResultData is the payload for EventPairResult.
type PairResultData struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Status      string `json:"status"`
}

// ConfigGeneratedData is the payload for EventConfigGenerated.
type ConfigGeneratedData struct {
	Platform string `json:"platform"`
	Rules    int    `json:"rules"`
	Bytes    int    `json:"bytes"`
}
