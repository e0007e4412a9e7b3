package sample

import (
	"fmt"
	"strings"
)

// ChannelPosition names the speaker a channel feeds.
type ChannelPosition uint8

const (
	PositionMono ChannelPosition = iota
	PositionFrontLeft
	PositionFrontRight
	PositionFrontCenter
	PositionRearLeft
	PositionRearRight
	PositionRearCenter
	PositionLFE
	PositionSideLeft
	PositionSideRight

	positionMax
)

var positionNames = [positionMax]string{
	PositionMono:        "mono",
	PositionFrontLeft:   "front-left",
	PositionFrontRight:  "front-right",
	PositionFrontCenter: "front-center",
	PositionRearLeft:    "rear-left",
	PositionRearRight:   "rear-right",
	PositionRearCenter:  "rear-center",
	PositionLFE:         "lfe",
	PositionSideLeft:    "side-left",
	PositionSideRight:   "side-right",
}

func (p ChannelPosition) String() string {
	if p >= positionMax {
		return fmt.Sprintf("invalid(%d)", uint8(p))
	}
	return positionNames[p]
}

// ChannelMap assigns a speaker position to each channel of a spec.
type ChannelMap struct {
	Channels  uint8
	Positions [MaxChannels]ChannelPosition
}

// DefaultChannelMap returns the conventional map for a channel count:
// mono, stereo, then stereo plus auxiliary positions in order.
func DefaultChannelMap(channels uint8) ChannelMap {
	m := ChannelMap{Channels: channels}
	switch channels {
	case 1:
		m.Positions[0] = PositionMono
	case 2:
		m.Positions[0] = PositionFrontLeft
		m.Positions[1] = PositionFrontRight
	default:
		order := []ChannelPosition{
			PositionFrontLeft, PositionFrontRight, PositionFrontCenter,
			PositionRearLeft, PositionRearRight, PositionRearCenter,
			PositionLFE, PositionSideLeft, PositionSideRight,
		}
		for i := 0; i < int(channels); i++ {
			if i < len(order) {
				m.Positions[i] = order[i]
			} else {
				m.Positions[i] = PositionMono
			}
		}
	}
	return m
}

// ParseChannelMap parses a channel map argument: "mono", "stereo", or a
// comma-separated list of position names.
func ParseChannelMap(s string) (ChannelMap, error) {
	switch strings.ToLower(s) {
	case "mono":
		return DefaultChannelMap(1), nil
	case "stereo":
		return DefaultChannelMap(2), nil
	}

	parts := strings.Split(s, ",")
	if len(parts) > MaxChannels {
		return ChannelMap{}, fmt.Errorf("channel map has %d positions, maximum is %d", len(parts), MaxChannels)
	}

	m := ChannelMap{Channels: uint8(len(parts))}
	for i, part := range parts {
		name := strings.TrimSpace(strings.ToLower(part))
		found := false
		for p, pn := range positionNames {
			if pn == name {
				m.Positions[i] = ChannelPosition(p)
				found = true
				break
			}
		}
		if !found {
			return ChannelMap{}, fmt.Errorf("unknown channel position %q", part)
		}
	}
	return m, nil
}

func (m ChannelMap) String() string {
	if m.Channels == 1 && m.Positions[0] == PositionMono {
		return "mono"
	}
	names := make([]string, m.Channels)
	for i := 0; i < int(m.Channels); i++ {
		names[i] = m.Positions[i].String()
	}
	return strings.Join(names, ",")
}
