package rpc

import (
	"encoding/json"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// jsonCodec replaces Connect's protojson codec so plain Go structs can be
// used as messages. Protobuf messages still go through protojson.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		return protojson.Marshal(m)
	}
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if m, ok := v.(proto.Message); ok {
		return protojson.UnmarshalOptions{DiscardUnknown: true}.Unmarshal(data, m)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// Timestamp is carried as an RFC 3339 string, the protobuf JSON form.
type Timestamp struct {
	pb *timestamppb.Timestamp
}

// NewTimestamp returns nil for the zero time.
func NewTimestamp(t time.Time) *Timestamp {
	if t.IsZero() {
		return nil
	}
	return &Timestamp{pb: timestamppb.New(t)}
}

// Time returns the zero time for a nil or empty Timestamp.
func (t *Timestamp) Time() time.Time {
	if t == nil || t.pb == nil {
		return time.Time{}
	}
	return t.pb.AsTime()
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.pb == nil {
		return []byte("null"), nil
	}
	return protojson.Marshal(t.pb)
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	t.pb = &timestamppb.Timestamp{}
	if err := protojson.Unmarshal(data, t.pb); err != nil {
		return err
	}
	return t.pb.CheckValid()
}

// Duration is carried as a decimal seconds string such as "57s".
type Duration struct {
	pb *durationpb.Duration
}

func NewDuration(d time.Duration) *Duration {
	return &Duration{pb: durationpb.New(d)}
}

// Std returns 0 for a nil Duration.
func (d *Duration) Std() time.Duration {
	if d == nil || d.pb == nil {
		return 0
	}
	return d.pb.AsDuration()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	if d.pb == nil {
		return []byte("null"), nil
	}
	return protojson.Marshal(d.pb)
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	d.pb = &durationpb.Duration{}
	if err := protojson.Unmarshal(data, d.pb); err != nil {
		return err
	}
	return d.pb.CheckValid()
}
