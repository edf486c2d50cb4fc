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

// Package rtmpreceive implements the rtmp_receive workflow step. It registers
// with the RTMP server endpoint so publishers can connect on the configured
// port, application name, and stream key combination; media the publishers
// push is surfaced to the next steps in the pipeline.
//
// Media arriving from previous workflow steps is ignored.
package rtmpreceive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/mmids/internal/endpoints/rtmp"
	"github.com/tombee/mmids/pkg/media"
	"github.com/tombee/mmids/pkg/workflow"
	"github.com/tombee/mmids/pkg/workflow/step"
)

// StepType is the step type this package registers under.
const StepType workflow.StepType = "rtmp_receive"

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

// Generator builds rtmp_receive steps bound to an RTMP endpoint.
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

	s := &receiveStep{
		definition:        definition.Clone(),
		logger:            g.logger.With("step_type", StepType),
		endpoint:          g.endpoint,
		port:              port,
		rtmpApp:           app,
		streamKey:         registration,
		status:            step.StatusCreated,
		connectionStreams: make(map[rtmp.ConnectionID]media.StreamID),
	}

	messages := make(chan rtmp.PublisherMessage, 64)
	g.endpoint <- rtmp.ListenForPublishers{
		MessageChannel: messages,
		Port:           port,
		RtmpApp:        app,
		StreamKey:      registration,
		IPRestrictions: restriction,
		UseTLS:         useRtmps,
	}

	return s, []step.Future{waitForEndpointMessage(messages)}, nil
}

type receiveStep struct {
	definition        workflow.StepDefinition
	logger            *slog.Logger
	endpoint          chan<- rtmp.Request
	port              uint16
	rtmpApp           string
	streamKey         rtmp.StreamKeyRegistration
	status            step.Status
	connectionStreams map[rtmp.ConnectionID]media.StreamID
}

// endpointMessageReceived is the step future result carrying one publisher
// message and the channel to re-arm.
type endpointMessageReceived struct {
	message rtmp.PublisherMessage
	channel <-chan rtmp.PublisherMessage
}

// endpointGone signals the RTMP endpoint went away.
type endpointGone struct{}

func waitForEndpointMessage(channel <-chan rtmp.PublisherMessage) step.Future {
	return func(ctx context.Context) step.FutureResult {
		select {
		case message, ok := <-channel:
			if !ok {
				return endpointGone{}
			}
			return endpointMessageReceived{message: message, channel: channel}
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *receiveStep) Status() step.Status {
	return s.status
}

func (s *receiveStep) Definition() workflow.StepDefinition {
	return s.definition
}

func (s *receiveStep) Execute(inputs *step.Inputs, outputs *step.Outputs) {
	for _, notification := range inputs.Notifications {
		switch result := notification.(type) {
		case endpointGone:
			s.logger.Error("rtmp receive step stopping as the rtmp endpoint is gone")
			s.status = step.StatusError
			return

		case endpointMessageReceived:
			outputs.Futures = append(outputs.Futures, waitForEndpointMessage(result.channel))
			s.handlePublisherMessage(outputs, result.message)

		default:
			s.logger.Error("rtmp receive step received an unexpected notification type",
				"type", fmt.Sprintf("%T", notification))
			s.status = step.StatusError
			return
		}
	}
}

func (s *receiveStep) handlePublisherMessage(outputs *step.Outputs, message rtmp.PublisherMessage) {
	switch message := message.(type) {
	case rtmp.PublisherRegistrationFailed:
		s.logger.Error("rtmp receive step failed to register for publishing")
		s.status = step.StatusError

	case rtmp.PublisherRegistrationSuccessful:
		s.logger.Info("rtmp receive step successfully registered for publishing")
		s.status = step.StatusActive

	case rtmp.NewPublisherConnected:
		s.logger.Info("rtmp receive step seen new publisher",
			"stream_id", message.StreamID,
			"connection_id", message.ConnectionID,
			"stream_key", message.StreamKey)

		s.connectionStreams[message.ConnectionID] = message.StreamID
		outputs.Media = append(outputs.Media, media.Notification{
			StreamID: message.StreamID,
			Content:  media.NewIncomingStream{StreamName: message.StreamKey},
		})

	case rtmp.PublishingStopped:
		streamID, ok := s.connectionStreams[message.ConnectionID]
		if !ok {
			return
		}

		s.logger.Info("rtmp receive step notified that a connection stopped publishing",
			"stream_id", streamID,
			"connection_id", message.ConnectionID)

		delete(s.connectionStreams, message.ConnectionID)
		outputs.Media = append(outputs.Media, media.Notification{
			StreamID: streamID,
			Content:  media.StreamDisconnected{},
		})

	case rtmp.StreamMetadataChanged:
		streamID, ok := s.connectionStreams[message.Publisher]
		if !ok {
			return
		}

		outputs.Media = append(outputs.Media, media.Notification{
			StreamID: streamID,
			Content:  media.Metadata{Data: message.Metadata},
		})

	case rtmp.NewVideoData:
		streamID, ok := s.connectionStreams[message.Publisher]
		if !ok {
			return
		}

		outputs.Media = append(outputs.Media, media.Notification{
			StreamID: streamID,
			Content: media.Video{
				Codec:            message.Codec,
				IsKeyframe:       message.IsKeyframe,
				IsSequenceHeader: message.IsSequenceHeader,
				Timestamp:        time.Duration(message.Timestamp) * time.Millisecond,
				Data:             message.Data,
			},
		})

	case rtmp.NewAudioData:
		streamID, ok := s.connectionStreams[message.Publisher]
		if !ok {
			return
		}

		outputs.Media = append(outputs.Media, media.Notification{
			StreamID: streamID,
			Content: media.Audio{
				Codec:            message.Codec,
				IsSequenceHeader: message.IsSequenceHeader,
				Timestamp:        time.Duration(message.Timestamp) * time.Millisecond,
				Data:             message.Data,
			},
		})
	}
}

func (s *receiveStep) Shutdown() {
	s.status = step.StatusShutdown
	s.endpoint <- rtmp.RemoveRegistration{
		Type:      rtmp.RegistrationTypePublisher,
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
