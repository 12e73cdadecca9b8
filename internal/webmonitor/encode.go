package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	contentJSON     = "application/json"
	contentProtobuf = "application/protobuf"
)

// SerializedEvent carries one payload pre-encoded in both formats.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

// encodeProto renders any JSON-shaped value as a google.protobuf.Struct or
// ListValue message.
func encodeProto(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	var msg proto.Message
	switch v := generic.(type) {
	case map[string]any:
		msg, err = structpb.NewStruct(v)
	case []any:
		msg, err = structpb.NewList(v)
	default:
		msg, err = structpb.NewValue(v)
	}
	if err != nil {
		return nil, fmt.Errorf("build protobuf payload: %w", err)
	}
	return proto.Marshal(msg)
}

// serialize encodes payload for SSE subscribers of either format.
func serialize(payload any) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("JSON marshal: %w", err)
	}
	pbData, err := encodeProto(payload)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}
	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}
