// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package media defines the media notification types that flow between
// workflow steps. A notification pairs an opaque stream identifier with one
// of a closed set of content payloads: stream lifecycle events, metadata, or
// audio/video packets.
package media

import (
	"time"

	"github.com/google/uuid"
)

// StreamID uniquely identifies a live media stream inside a workflow.
// Between a stream's NewIncomingStream and StreamDisconnected notifications,
// every notification for that stream carries the same StreamID.
type StreamID string

// NewStreamID generates a fresh stream identifier.
func NewStreamID() StreamID {
	return StreamID(uuid.NewString())
}

// VideoCodec identifies the codec of a video packet.
type VideoCodec string

const (
	VideoCodecH264    VideoCodec = "h264"
	VideoCodecUnknown VideoCodec = "unknown"
)

// AudioCodec identifies the codec of an audio packet.
type AudioCodec string

const (
	AudioCodecAAC     AudioCodec = "aac"
	AudioCodecUnknown AudioCodec = "unknown"
)

// Notification is a single piece of information about a media stream that is
// passed from one workflow step to the next.
type Notification struct {
	StreamID StreamID
	Content  Content
}

// Content is the payload of a media notification. It is a closed set:
// NewIncomingStream, StreamDisconnected, Metadata, Video, or Audio.
type Content interface {
	isMediaContent()
}

// NewIncomingStream announces that a source step has begun receiving a new
// media stream.
type NewIncomingStream struct {
	// StreamName is the logical name the stream was published as
	// (e.g. an RTMP stream key).
	StreamName string
}

// StreamDisconnected announces that a stream's source is gone. Downstream
// steps should stop expecting media for the stream.
type StreamDisconnected struct{}

// Metadata carries stream metadata, such as encoder settings announced by
// an RTMP publisher.
type Metadata struct {
	Data map[string]string
}

// Video carries a single video packet.
type Video struct {
	Codec VideoCodec

	// IsKeyframe is true if this packet can be decoded without reference
	// to prior packets.
	IsKeyframe bool

	// IsSequenceHeader is true if this packet carries codec initialization
	// data rather than picture data. Sequence headers are cached by the
	// workflow runner and replayed to newly inserted steps.
	IsSequenceHeader bool

	Timestamp time.Duration
	Data      []byte
}

// Audio carries a single audio packet.
type Audio struct {
	Codec            AudioCodec
	IsSequenceHeader bool
	Timestamp        time.Duration
	Data             []byte
}

func (NewIncomingStream) isMediaContent()  {}
func (StreamDisconnected) isMediaContent() {}
func (Metadata) isMediaContent()           {}
func (Video) isMediaContent()              {}
func (Audio) isMediaContent()              {}
