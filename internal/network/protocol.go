package network

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// MaxDatagramSize is the largest datagram the receive loop accepts
const MaxDatagramSize = 8 << 10

// MessageType discriminates wire messages
type MessageType string

const (
	MessagePresence MessageType = "presence"
	MessageShare    MessageType = "share"
)

// Message is a decoded wire message: *Presence or *Share
type Message interface {
	MessageType() MessageType
	validate() error
}

// Presence announces an instance on the LAN. Timestamp is Unix milliseconds.
type Presence struct {
	Type        MessageType `json:"type"`
	ID          string      `json:"id"`
	DisplayName string      `json:"displayName"`
	IP          string      `json:"ip"`
	Timestamp   int64       `json:"timestamp"`
	Sig         string      `json:"sig"`
}

func (p *Presence) MessageType() MessageType { return MessagePresence }

func (p *Presence) validate() error {
	switch {
	case p.ID == "":
		return missing("id")
	case p.IP == "":
		return missing("ip")
	case p.Timestamp <= 0:
		return missing("timestamp")
	case p.Sig == "":
		return missing("sig")
	}
	return nil
}

// Share carries one encrypted credential to one target
type Share struct {
	Type              MessageType `json:"type"`
	ShareID           string      `json:"shareId"`
	SenderID          string      `json:"senderId"`
	TargetID          string      `json:"targetId"`
	SenderDisplayName string      `json:"senderDisplayName"`
	SenderIP          string      `json:"senderIp"`
	EncryptedPayload  ShareBlob   `json:"encryptedPayload"`
	PayloadVersion    int         `json:"payloadVersion"`
	Timestamp         int64       `json:"timestamp"`
}

func (s *Share) MessageType() MessageType { return MessageShare }

func (s *Share) validate() error {
	switch {
	case s.ShareID == "":
		return missing("shareId")
	case s.SenderID == "":
		return missing("senderId")
	case s.TargetID == "":
		return missing("targetId")
	case s.EncryptedPayload.IV == "" || s.EncryptedPayload.EncryptedData == "":
		return missing("encryptedPayload")
	case s.PayloadVersion <= 0:
		return missing("payloadVersion")
	case s.Timestamp <= 0:
		return missing("timestamp")
	}
	return nil
}

// Time returns the sender's timestamp
func (s *Share) Time() time.Time {
	return time.UnixMilli(s.Timestamp)
}

func missing(field string) error {
	return fmt.Errorf("%w: missing %s", ErrMalformedMessage, field)
}

// Encode serializes a message and sets its type field
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *Presence:
		m.Type = MessagePresence
	case *Share:
		m.Type = MessageShare
	default:
		return nil, fmt.Errorf("%w: unsupported message %T", ErrMalformedMessage, msg)
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	if len(data) > MaxDatagramSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds datagram limit", ErrMalformedMessage, len(data))
	}
	return data, nil
}

// Decode parses one datagram. Unknown types, unknown fields, missing required fields,
// trailing data and oversize input are all ErrMalformedMessage.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 || len(data) > MaxDatagramSize {
		return nil, fmt.Errorf("%w: size %d", ErrMalformedMessage, len(data))
	}

	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var msg Message
	switch head.Type {
	case MessagePresence:
		msg = &Presence{}
	case MessageShare:
		msg = &Share{}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, head.Type)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformedMessage)
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	return msg, nil
}
