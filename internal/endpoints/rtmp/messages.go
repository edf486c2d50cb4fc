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

// Package rtmp defines the message contract between workflow steps and the
// RTMP server endpoint. The endpoint itself is an external collaborator;
// steps only register publisher or watcher interest on a port/app/stream-key
// combination and exchange these messages over channels.
package rtmp

import (
	"github.com/google/uuid"
	"github.com/tombee/mmids/pkg/media"
)

// ConnectionID identifies a single RTMP client connection on the endpoint.
type ConnectionID string

// NewConnectionID generates a fresh connection identifier.
func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.NewString())
}

// Timestamp is an RTMP timestamp: milliseconds in 32 bits, wrapping.
type Timestamp uint32

// StreamKeyRegistration describes which stream keys a registration covers.
type StreamKeyRegistration struct {
	exact string
	any   bool
}

// AnyStreamKey matches every stream key on the registered application.
func AnyStreamKey() StreamKeyRegistration {
	return StreamKeyRegistration{any: true}
}

// ExactStreamKey matches a single stream key.
func ExactStreamKey(key string) StreamKeyRegistration {
	return StreamKeyRegistration{exact: key}
}

// IsAny reports whether the registration covers all stream keys.
func (r StreamKeyRegistration) IsAny() bool { return r.any }

// Key returns the exact stream key and whether one is set.
func (r StreamKeyRegistration) Key() (string, bool) {
	if r.any {
		return "", false
	}
	return r.exact, true
}

// Request is a message a workflow step sends to the RTMP endpoint.
type Request interface {
	isRtmpRequest()
}

// RegistrationType distinguishes publisher from watcher registrations.
type RegistrationType string

const (
	RegistrationTypePublisher RegistrationType = "publisher"
	RegistrationTypeWatcher   RegistrationType = "watcher"
)

// ListenForPublishers registers interest in publishers connecting on the
// given port, application, and stream key. Publisher events are delivered on
// MessageChannel.
type ListenForPublishers struct {
	MessageChannel chan<- PublisherMessage
	Port           uint16
	RtmpApp        string
	StreamKey      StreamKeyRegistration
	IPRestrictions IPRestriction
	UseTLS         bool

	// StreamID, when set, forces all publishers on this registration to
	// surface with the given stream id instead of a generated one.
	StreamID *media.StreamID
}

// ListenForWatchers registers interest in RTMP clients watching on the given
// port, application, and stream key. Watcher lifecycle events arrive on
// NotificationChannel; the step feeds outgoing media into MediaChannel.
type ListenForWatchers struct {
	NotificationChannel chan<- WatcherNotification
	MediaChannel        <-chan MediaMessage
	Port                uint16
	RtmpApp             string
	StreamKey           StreamKeyRegistration
	IPRestrictions      IPRestriction
	UseTLS              bool
}

// RemoveRegistration withdraws a previous registration.
type RemoveRegistration struct {
	Type      RegistrationType
	Port      uint16
	RtmpApp   string
	StreamKey StreamKeyRegistration
}

func (ListenForPublishers) isRtmpRequest() {}
func (ListenForWatchers) isRtmpRequest()   {}
func (RemoveRegistration) isRtmpRequest()  {}

// PublisherMessage is an event the endpoint delivers to a publisher
// registration.
type PublisherMessage interface {
	isPublisherMessage()
}

// PublisherRegistrationSuccessful confirms the registration is live.
type PublisherRegistrationSuccessful struct{}

// PublisherRegistrationFailed reports the registration was denied (e.g. the
// port/app/key combination is already claimed incompatibly).
type PublisherRegistrationFailed struct{}

// NewPublisherConnected announces a publisher starting to push media.
type NewPublisherConnected struct {
	StreamID     media.StreamID
	ConnectionID ConnectionID
	StreamKey    string
}

// PublishingStopped announces a publisher going away.
type PublishingStopped struct {
	ConnectionID ConnectionID
}

// StreamMetadataChanged carries publisher metadata (encoder settings etc).
type StreamMetadataChanged struct {
	Publisher ConnectionID
	Metadata  map[string]string
}

// NewVideoData carries one video packet from a publisher.
type NewVideoData struct {
	Publisher        ConnectionID
	Codec            media.VideoCodec
	IsKeyframe       bool
	IsSequenceHeader bool
	Timestamp        Timestamp
	Data             []byte
}

// NewAudioData carries one audio packet from a publisher.
type NewAudioData struct {
	Publisher        ConnectionID
	Codec            media.AudioCodec
	IsSequenceHeader bool
	Timestamp        Timestamp
	Data             []byte
}

func (PublisherRegistrationSuccessful) isPublisherMessage() {}
func (PublisherRegistrationFailed) isPublisherMessage()     {}
func (NewPublisherConnected) isPublisherMessage()           {}
func (PublishingStopped) isPublisherMessage()               {}
func (StreamMetadataChanged) isPublisherMessage()           {}
func (NewVideoData) isPublisherMessage()                    {}
func (NewAudioData) isPublisherMessage()                    {}

// WatcherNotification is an event the endpoint delivers to a watcher
// registration.
type WatcherNotification interface {
	isWatcherNotification()
}

// WatcherRegistrationSuccessful confirms the registration is live.
type WatcherRegistrationSuccessful struct{}

// WatcherRegistrationFailed reports the registration was denied.
type WatcherRegistrationFailed struct{}

// StreamKeyBecameActive reports at least one client watching the key.
type StreamKeyBecameActive struct {
	StreamKey string
}

// StreamKeyBecameInactive reports all clients left the key.
type StreamKeyBecameInactive struct {
	StreamKey string
}

func (WatcherRegistrationSuccessful) isWatcherNotification() {}
func (WatcherRegistrationFailed) isWatcherNotification()     {}
func (StreamKeyBecameActive) isWatcherNotification()         {}
func (StreamKeyBecameInactive) isWatcherNotification()       {}

// MediaMessage is outgoing media a watch step hands to the endpoint for
// distribution to clients watching the stream key.
type MediaMessage struct {
	StreamKey string
	Data      MediaData
}

// MediaData is the payload of a MediaMessage.
type MediaData interface {
	isMediaData()
}

// NewStreamMetaData carries metadata for watchers.
type NewStreamMetaData struct {
	Metadata map[string]string
}

// NewWatchVideoData carries one video packet for watchers.
type NewWatchVideoData struct {
	Codec            media.VideoCodec
	IsKeyframe       bool
	IsSequenceHeader bool
	Timestamp        Timestamp
	Data             []byte
}

// NewWatchAudioData carries one audio packet for watchers.
type NewWatchAudioData struct {
	Codec            media.AudioCodec
	IsSequenceHeader bool
	Timestamp        Timestamp
	Data             []byte
}

func (NewStreamMetaData) isMediaData() {}
func (NewWatchVideoData) isMediaData() {}
func (NewWatchAudioData) isMediaData() {}
