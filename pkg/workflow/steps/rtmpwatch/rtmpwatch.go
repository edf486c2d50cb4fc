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

// Package rtmpwatch implements the rtmp_watch workflow step. It registers
// with the RTMP server endpoint so clients can connect and watch media
// streams on the configured port, application name, and stream key
// combination; media notifications flowing through the pipeline are handed
// to the endpoint for distribution to waiting clients.
//
// With a stream key of `*`, clients can connect on any stream key and media
// is routed to clients whose key matches the pipeline stream's name. With an
// exact stream key, every stream in the pipeline is surfaced on that key.
//
// All media notifications passed into this step are passed on to the next
// step untouched.
package rtmpwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tombee/mmids/internal/endpoints/rtmp"
	"github.com/tombee/mmids/pkg/media"
	"github.com/tombee/mmids/pkg/workflow"
	"github.com/tombee/mmids/pkg/workflow/step"
)

// StepType is the step type this package registers under.
const StepType workflow.StepType = "rtmp_watch"

// Step parameter names.
const (
	PortPropertyName      = "port"
	AppPropertyName       = "rtmp_app"
	StreamKeyPropertyName = "stream_key"
	IPAllowPropertyName   = "allow_ips"
	IPDenyPropertyName    = "deny_ips"
	RtmpsFlag             = "rtmps"
)

// Construction errors.
var (
	ErrNoRtmpApp             = errors.New("no RTMP app specified, a non-empty 'rtmp_app' parameter is required")
	ErrNoStreamKey           = errors.New("no stream key specified, a non-empty 'stream_key' parameter is required")
	ErrBothAllowAndDenyLists = errors.New("both allow_ips and deny_ips were specified, but only one is allowed")
)

// Generator builds rtmp_watch steps bound to an RTMP endpoint.
type Generator struct {
	endpoint chan<- rtmp.Request
	logger   *slog.Logger
}

// NewGenerator creates a generator that registers steps with the given
// endpoint request channel.
func NewGenerator(endpoint chan<- rtmp.Request, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Generator{endpoint: endpoint, logger: logger}
}

// Generate implements step.Generator.
func (g *Generator) Generate(definition workflow.StepDefinition) (step.Step, []step.Future, error) {
	useRtmps := hasFlag(definition, RtmpsFlag)

	port, err := parsePort(definition, useRtmps)
	if err != nil {
		return nil, nil, err
	}

	app := paramValue(definition, AppPropertyName)
	if app == "" {
		return nil, nil, ErrNoRtmpApp
	}

	streamKey := paramValue(definition, StreamKeyPropertyName)
	if streamKey == "" {
		return nil, nil, ErrNoStreamKey
	}

	restriction, err := parseIPRestriction(definition)
	if err != nil {
		return nil, nil, err
	}

	registration := rtmp.ExactStreamKey(streamKey)
	if streamKey == "*" {
		registration = rtmp.AnyStreamKey()
	}

	mediaChannel := make(chan rtmp.MediaMessage, 256)
	s := &watchStep{
		definition:   definition.Clone(),
		logger:       g.logger.With("step_type", StepType),
		endpoint:     g.endpoint,
		port:         port,
		rtmpApp:      app,
		streamKey:    registration,
		status:       step.StatusCreated,
		mediaChannel: mediaChannel,
		streamNames:  make(map[media.StreamID]string),
	}

	notifications := make(chan rtmp.WatcherNotification, 64)
	g.endpoint <- rtmp.ListenForWatchers{
		NotificationChannel: notifications,
		MediaChannel:        mediaChannel,
		Port:                port,
		RtmpApp:             app,
		StreamKey:           registration,
		IPRestrictions:      restriction,
		UseTLS:              useRtmps,
	}

	return s, []step.Future{waitForEndpointNotification(notifications)}, nil
}

type watchStep struct {
	definition   workflow.StepDefinition
	logger       *slog.Logger
	endpoint     chan<- rtmp.Request
	port         uint16
	rtmpApp      string
	streamKey    rtmp.StreamKeyRegistration
	status       step.Status
	mediaChannel chan<- rtmp.MediaMessage
	streamNames  map[media.StreamID]string
}

// endpointNotificationReceived is the step future result carrying one
// watcher notification and the channel to re-arm.
type endpointNotificationReceived struct {
	notification rtmp.WatcherNotification
	channel      <-chan rtmp.WatcherNotification
}

// endpointGone signals the RTMP endpoint went away.
type endpointGone struct{}

func waitForEndpointNotification(channel <-chan rtmp.WatcherNotification) step.Future {
	return func(ctx context.Context) step.FutureResult {
		select {
		case notification, ok := <-channel:
			if !ok {
				return endpointGone{}
			}
			return endpointNotificationReceived{notification: notification, channel: channel}
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *watchStep) Status() step.Status {
	return s.status
}

func (s *watchStep) Definition() workflow.StepDefinition {
	return s.definition
}

func (s *watchStep) Execute(inputs *step.Inputs, outputs *step.Outputs) {
	if s.status == step.StatusError {
		outputs.Media = append(outputs.Media, inputs.Media...)
		return
	}

	for _, notification := range inputs.Notifications {
		switch result := notification.(type) {
		case endpointGone:
			s.logger.Error("rtmp endpoint gone, shutting step down")
			s.status = step.StatusError
			outputs.Media = append(outputs.Media, inputs.Media...)
			return

		case endpointNotificationReceived:
			outputs.Futures = append(outputs.Futures, waitForEndpointNotification(result.channel))
			s.handleEndpointNotification(result.notification)

		default:
			s.logger.Error("rtmp watch step received an unexpected notification type",
				"type", fmt.Sprintf("%T", notification))
			s.status = step.StatusError
			outputs.Media = append(outputs.Media, inputs.Media...)
			return
		}
	}

	for _, notification := range inputs.Media {
		s.handleMedia(notification, outputs)
	}
}

func (s *watchStep) handleEndpointNotification(notification rtmp.WatcherNotification) {
	switch notification := notification.(type) {
	case rtmp.WatcherRegistrationFailed:
		s.logger.Error("registration for RTMP watchers was denied")
		s.status = step.StatusError

	case rtmp.WatcherRegistrationSuccessful:
		s.logger.Info("registration for RTMP watchers was accepted")
		s.status = step.StatusActive

	case rtmp.StreamKeyBecameActive:
		s.logger.Info("at least one watcher became active for stream key",
			"stream_key", notification.StreamKey)

	case rtmp.StreamKeyBecameInactive:
		s.logger.Info("all watchers left stream key",
			"stream_key", notification.StreamKey)
	}
}

func (s *watchStep) handleMedia(notification media.Notification, outputs *step.Outputs) {
	if s.status == step.StatusActive {
		switch content := notification.Content.(type) {
		case media.NewIncomingStream:
			// With an exact stream key registration the original
			// publish name doesn't matter; for watch purposes the
			// stream surfaces on the configured key.
			streamName := content.StreamName
			if key, ok := s.streamKey.Key(); ok {
				streamName = key
			}

			s.logger.Info("new incoming stream notification",
				"stream_id", notification.StreamID,
				"stream_name", streamName)

			if current, ok := s.streamNames[notification.StreamID]; ok {
				if current == streamName {
					s.logger.Warn("stream id is already mapped to this same stream name",
						"stream_id", notification.StreamID,
						"stream_name", streamName)
				} else {
					s.logger.Warn("stream id is already mapped to another stream name",
						"stream_id", notification.StreamID,
						"new_stream_name", streamName,
						"active_stream_name", current)
				}
			}

			s.streamNames[notification.StreamID] = streamName

		case media.StreamDisconnected:
			s.logger.Info("stream disconnected notification received",
				"stream_id", notification.StreamID)

			if _, ok := s.streamNames[notification.StreamID]; !ok {
				s.logger.Warn("disconnected stream was not mapped to a stream name",
					"stream_id", notification.StreamID)
			}
			delete(s.streamNames, notification.StreamID)

		case media.Metadata:
			if streamKey, ok := s.streamNames[notification.StreamID]; ok {
				s.sendToEndpoint(rtmp.MediaMessage{
					StreamKey: streamKey,
					Data:      rtmp.NewStreamMetaData{Metadata: content.Data},
				})
			}

		case media.Video:
			if streamKey, ok := s.streamNames[notification.StreamID]; ok {
				s.sendToEndpoint(rtmp.MediaMessage{
					StreamKey: streamKey,
					Data: rtmp.NewWatchVideoData{
						Codec:            content.Codec,
						IsKeyframe:       content.IsKeyframe,
						IsSequenceHeader: content.IsSequenceHeader,
						Timestamp:        rtmp.Timestamp(content.Timestamp.Milliseconds()),
						Data:             content.Data,
					},
				})
			}

		case media.Audio:
			if streamKey, ok := s.streamNames[notification.StreamID]; ok {
				s.sendToEndpoint(rtmp.MediaMessage{
					StreamKey: streamKey,
					Data: rtmp.NewWatchAudioData{
						Codec:            content.Codec,
						IsSequenceHeader: content.IsSequenceHeader,
						Timestamp:        rtmp.Timestamp(content.Timestamp.Milliseconds()),
						Data:             content.Data,
					},
				})
			}
		}
	}

	outputs.Media = append(outputs.Media, notification)
}

// sendToEndpoint hands media to the endpoint without blocking the pipeline.
// The endpoint channel is generously buffered; if it still fills up, packets
// are dropped rather than stalling every workflow step behind this one.
func (s *watchStep) sendToEndpoint(message rtmp.MediaMessage) {
	select {
	case s.mediaChannel <- message:
	default:
		s.logger.Warn("rtmp endpoint media channel full, dropping packet",
			"stream_key", message.StreamKey)
	}
}

func (s *watchStep) Shutdown() {
	s.status = step.StatusShutdown
	s.endpoint <- rtmp.RemoveRegistration{
		Type:      rtmp.RegistrationTypeWatcher,
		Port:      s.port,
		RtmpApp:   s.rtmpApp,
		StreamKey: s.streamKey,
	}
}

func hasFlag(definition workflow.StepDefinition, name string) bool {
	_, ok := definition.Parameters[name]
	return ok
}

func paramValue(definition workflow.StepDefinition, name string) string {
	if value := definition.Parameters[name]; value != nil {
		return strings.TrimSpace(*value)
	}
	return ""
}

func parsePort(definition workflow.StepDefinition, useRtmps bool) (uint16, error) {
	raw := paramValue(definition, PortPropertyName)
	if raw == "" {
		if useRtmps {
			return 443, nil
		}
		return 1935, nil
	}

	port, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port value of '%s' specified, a number from 0 to 65535 is required", raw)
	}

	return uint16(port), nil
}

func parseIPRestriction(definition workflow.StepDefinition) (rtmp.IPRestriction, error) {
	allowList := paramValue(definition, IPAllowPropertyName)
	denyList := paramValue(definition, IPDenyPropertyName)

	switch {
	case allowList != "" && denyList != "":
		return rtmp.IPRestriction{}, ErrBothAllowAndDenyLists

	case allowList != "":
		prefixes, err := rtmp.ParseIPList(allowList)
		if err != nil {
			return rtmp.IPRestriction{}, err
		}
		return rtmp.IPRestriction{Mode: rtmp.IPRestrictionAllow, Addresses: prefixes}, nil

	case denyList != "":
		prefixes, err := rtmp.ParseIPList(denyList)
		if err != nil {
			return rtmp.IPRestriction{}, err
		}
		return rtmp.IPRestriction{Mode: rtmp.IPRestrictionDeny, Addresses: prefixes}, nil

	default:
		return rtmp.NoIPRestriction(), nil
	}
}
