package protocol

import "time"

// ConvertRequest asks the runtime to convert one utterance. Omitted tunables
// fall back to the runtime configuration.
type ConvertRequest struct {
	RequestID string `json:"request_id"`

	Text       string `json:"text,omitempty"`
	Voice      string `json:"voice,omitempty"`
	Rate       int    `json:"rate,omitempty"`
	Pitch      int    `json:"pitch,omitempty"`
	SourcePath string `json:"source_path,omitempty"`

	ReferencePath string `json:"reference_path"`

	DiffusionSteps *int     `json:"diffusion_steps,omitempty"`
	LengthAdjust   *float64 `json:"length_adjust,omitempty"`
	CFGRate        *float64 `json:"cfg_rate,omitempty"`
	F0Condition    bool     `json:"f0_condition,omitempty"`
	AutoF0Adjust   *bool    `json:"auto_f0_adjust,omitempty"`
	PitchShift     int      `json:"pitch_shift,omitempty"`
	SaveWAV        bool     `json:"save_wav,omitempty"`
}

// SourceReady announces the source utterance of a conversion.
type SourceReady struct {
	RequestID string    `json:"request_id"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// AudioChunk carries one encoded piece of converted audio. Data is omitted
// when the payload travels in a separate binary frame.
type AudioChunk struct {
	RequestID  string `json:"request_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Format     string `json:"format"`
	Samples    int    `json:"samples"`
	Data       []byte `json:"data,omitempty"`
	Final      bool   `json:"final"`
}

// ConvertStatus reports the end of a conversion.
type ConvertStatus struct {
	RequestID  string    `json:"request_id"`
	Completed  bool      `json:"completed"`
	NoOutput   bool      `json:"no_output,omitempty"`
	Error      string    `json:"error,omitempty"`
	SampleRate int       `json:"sample_rate,omitempty"`
	Samples    int       `json:"samples,omitempty"`
	Chunks     int       `json:"chunks"`
	WAVPath    string    `json:"wav_path,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Capability is one conversion profile a worker can serve.
type Capability struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NodeAnnounce is published when a worker joins the bus.
type NodeAnnounce struct {
	NodeID       string       `json:"node_id"`
	Capabilities []Capability `json:"capabilities"`
	Timestamp    time.Time    `json:"timestamp"`
}

type NodeHeartbeat struct {
	NodeID    string    `json:"node_id"`
	Busy      bool      `json:"busy"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectConvertRequest = "vc.convert.request"
	SubjectConvertSource  = "vc.convert.source"
	SubjectConvertAudio   = "vc.convert.audio"
	SubjectConvertDone    = "vc.convert.done"

	SubjectNodeAnnounce = "vc.node.announce"
	// SubjectNodeHeartbeat is suffixed with the node id.
	SubjectNodeHeartbeat = "vc.node.heartbeat"
)
