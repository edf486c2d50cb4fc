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

// Package webrtc bridges WebRTC ingest into the workflow media model.
package webrtc

import (
	"encoding/binary"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/tombee/mmids/pkg/media"
)

const (
	naluTypeStapA   = 24
	naluTypeSPS     = 7
	naluTypeBitmask = 0x1F

	// h264ClockRate is the RTP clock rate for H264 (RFC 6184).
	h264ClockRate = 90000
)

// H264MediaSender depacketizes H264 RTP packets and forwards the resulting
// frames as media notifications. Frames are withheld until the first
// keyframe so a decoder never starts mid-GOP.
type H264MediaSender struct {
	mediaChannel    chan<- media.Content
	cachedPacket    codecs.H264Packet
	hasSentKeyframe bool
}

// NewH264MediaSender creates a sender that forwards frames on mediaChannel.
func NewH264MediaSender(mediaChannel chan<- media.Content) *H264MediaSender {
	return &H264MediaSender{mediaChannel: mediaChannel}
}

// SendRTPData feeds one RTP packet into the sender.
func (s *H264MediaSender) SendRTPData(packet *rtp.Packet) error {
	if len(packet.Payload) == 0 {
		return nil
	}

	keyframe := isKeyFrame(packet.Payload)
	if !s.hasSentKeyframe && !keyframe {
		return nil
	}

	payload, err := s.cachedPacket.Unmarshal(packet.Payload)
	if err != nil {
		return err
	}

	// Payload is empty if the RTP packet carried a partial h264 packet
	// and not the end of it.
	if len(payload) == 0 {
		return nil
	}

	s.hasSentKeyframe = true
	s.mediaChannel <- media.Video{
		Codec:      media.VideoCodecH264,
		IsKeyframe: keyframe,
		Timestamp:  time.Duration(packet.Timestamp) * time.Second / h264ClockRate,
		Data:       payload,
	}

	return nil
}

// isKeyFrame reports whether the RTP payload starts an SPS NALU, either
// directly or as the first unit of a STAP-A aggregate.
func isKeyFrame(data []byte) bool {
	if len(data) < 4 {
		return false
	}

	word := binary.BigEndian.Uint32(data)
	naluType := (word >> 24) & naluTypeBitmask
	return (naluType == naluTypeStapA && word&naluTypeBitmask == naluTypeSPS) ||
		naluType == naluTypeSPS
}
