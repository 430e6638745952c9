package chat

import (
	"fmt"
	"time"

	"rhythm/functions"
	"rhythm/model"
)

// Dataset is the streaming history a conversation works over. It is read-only
// once built.
type Dataset struct {
	streams []functions.Stream
	version string
}

// NewDataset wraps streams. The slice is shared with every tool call and must
// not be modified afterwards.
func NewDataset(streams []functions.Stream) *Dataset {
	d := &Dataset{streams: streams}
	if len(streams) > 0 {
		_, last := functions.DateRange(streams)
		d.version = fmt.Sprintf("%d@%s", len(streams), last.UTC().Format(time.RFC3339))
	}
	return d
}

// LoadDataset reads the export at path. An empty path yields an empty dataset.
func LoadDataset(path string) (*Dataset, error) {
	if path == "" {
		return NewDataset(nil), nil
	}
	streams, err := functions.LoadStreams(path)
	if err != nil {
		return nil, err
	}
	return NewDataset(streams), nil
}

// StreamsData returns the streams handed to every tool.
func (d *Dataset) StreamsData() []functions.Stream {
	if d == nil {
		return nil
	}
	return d.streams
}

// Version fingerprints the dataset by size and newest play. Empty datasets
// have no version.
func (d *Dataset) Version() string {
	if d == nil {
		return ""
	}
	return d.version
}

// Len returns the number of plays.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.streams)
}

// TagMessage stamps msg with the dataset version it was produced against.
func (d *Dataset) TagMessage(msg model.Message) (model.Message, error) {
	if v := d.Version(); v != "" {
		msg.DataVersion = v
	}
	return msg, nil
}
