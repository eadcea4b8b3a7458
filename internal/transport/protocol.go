package transport

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Subprotocol is the Foxglove WebSocket protocol version negotiated on upgrade.
const Subprotocol = "foxglove.websocket.v1"

// OpMessageData is the binary opcode of a server message data frame.
const OpMessageData byte = 0x01

// messageDataHeader is opcode + subscription id + log time.
const messageDataHeader = 1 + 4 + 8

// StatusLevel is the severity of a status message.
type StatusLevel int

const (
	StatusInfo    StatusLevel = 0
	StatusWarning StatusLevel = 1
	StatusError   StatusLevel = 2
)

// ServerInfo is the first message a client receives.
type ServerInfo struct {
	Op                 string            `json:"op"`
	Name               string            `json:"name"`
	Capabilities       []string          `json:"capabilities"`
	SupportedEncodings []string          `json:"supportedEncodings"`
	Metadata           map[string]string `json:"metadata"`
	SessionID          string            `json:"sessionId"`
}

// AdvertisedChannel is the wire form of a Channel.
type AdvertisedChannel struct {
	ID             ChannelID `json:"id"`
	Topic          string    `json:"topic"`
	Encoding       string    `json:"encoding"`
	SchemaName     string    `json:"schemaName"`
	Schema         string    `json:"schema"`
	SchemaEncoding string    `json:"schemaEncoding"`
}

// Advertise announces channels.
type Advertise struct {
	Op       string              `json:"op"`
	Channels []AdvertisedChannel `json:"channels"`
}

// Status reports a problem to the client.
type Status struct {
	Op      string      `json:"op"`
	Level   StatusLevel `json:"level"`
	Message string      `json:"message"`
}

// ClientSubscription pairs a client-chosen subscription id with a channel.
type ClientSubscription struct {
	ID        uint32    `json:"id"`
	ChannelID ChannelID `json:"channelId"`
}

// ClientMessage is any JSON message a client sends. Only the fields of the
// given op are populated.
type ClientMessage struct {
	Op              string               `json:"op"`
	Subscriptions   []ClientSubscription `json:"subscriptions,omitempty"`
	SubscriptionIDs []uint32             `json:"subscriptionIds,omitempty"`
}

// NewServerInfo builds the serverInfo message.
func NewServerInfo(name, sessionID string, metadata map[string]string) ServerInfo {
	if metadata == nil {
		metadata = map[string]string{}
	}
	return ServerInfo{
		Op:                 "serverInfo",
		Name:               name,
		Capabilities:       []string{},
		SupportedEncodings: []string{},
		Metadata:           metadata,
		SessionID:          sessionID,
	}
}

// NewAdvertise builds an advertise message for channels. Protobuf schemas
// travel base64 encoded.
func NewAdvertise(channels []Channel) Advertise {
	adv := Advertise{Op: "advertise", Channels: make([]AdvertisedChannel, 0, len(channels))}
	for _, ch := range channels {
		adv.Channels = append(adv.Channels, AdvertisedChannel{
			ID:             ch.ID,
			Topic:          ch.Topic,
			Encoding:       ch.Schema.Encoding,
			SchemaName:     ch.Schema.Name,
			Schema:         base64.StdEncoding.EncodeToString(ch.Schema.Data),
			SchemaEncoding: ch.Schema.Encoding,
		})
	}
	return adv
}

// NewStatus builds a status message.
func NewStatus(level StatusLevel, msg string) Status {
	return Status{Op: "status", Level: level, Message: msg}
}

// ParseClientMessage decodes a client text frame.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("decode client message: %w", err)
	}
	if msg.Op == "" {
		return ClientMessage{}, errors.New("client message has no op")
	}
	return msg, nil
}

// AppendMessageData appends a binary message data frame to dst:
// opcode, subscription id (uint32 LE), log time (uint64 LE), payload.
func AppendMessageData(dst []byte, subID uint32, logTime uint64, payload []byte) []byte {
	dst = append(dst, OpMessageData)
	dst = binary.LittleEndian.AppendUint32(dst, subID)
	dst = binary.LittleEndian.AppendUint64(dst, logTime)
	return append(dst, payload...)
}

// ParseMessageData splits a binary message data frame.
func ParseMessageData(frame []byte) (subID uint32, logTime uint64, payload []byte, err error) {
	if len(frame) < messageDataHeader {
		return 0, 0, nil, fmt.Errorf("message data frame too short: %d bytes", len(frame))
	}
	if frame[0] != OpMessageData {
		return 0, 0, nil, fmt.Errorf("unexpected opcode 0x%02x", frame[0])
	}
	subID = binary.LittleEndian.Uint32(frame[1:5])
	logTime = binary.LittleEndian.Uint64(frame[5:13])
	return subID, logTime, frame[messageDataHeader:], nil
}
