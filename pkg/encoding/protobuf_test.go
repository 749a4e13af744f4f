package encoding

import (
	"bytes"
	"os"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
)

// testManifest builds a structpb.Struct standing in for the symlink-manifest
// payload exchanged during a peer query, since it is the one proto.Message
// type available without a generated .pb.go schema.
func testManifest(path string, size float64) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"path": structpb.NewStringValue(path),
		"size": structpb.NewNumberValue(size),
	}}
}

// TestProtocolBuffersCycle tests a Protocol Buffers marshal/save/load/unmarshal
// cycle.
func TestProtocolBuffersCycle(t *testing.T) {
	// Create an empty temporary file and defer its cleanup.
	file, err := os.CreateTemp("", "pipcache_encoding")
	if err != nil {
		t.Fatal("unable to create temporary file:", err)
	} else if err = file.Close(); err != nil {
		t.Fatal("unable to close temporary file:", err)
	}
	defer os.Remove(file.Name())

	// Create a Protocol Buffers message that we can test with.
	message := testManifest("/by/land/or/by/sea", 1776)
	if err := MarshalAndSaveProtobuf(file.Name(), message); err != nil {
		t.Fatal("unable to marshal and save Protocol Buffers message:", err)
	}

	// Reload the message.
	decoded := &structpb.Struct{}
	if err := LoadAndUnmarshalProtobuf(file.Name(), decoded); err != nil {
		t.Fatal("unable to load and unmarshal Protocol Buffers message:", err)
	}

	// Verify that contents were preserved.
	if decoded.Fields["path"].GetStringValue() != message.Fields["path"].GetStringValue() {
		t.Error("decoded Protocol Buffers message did not match original:", decoded, "!=", message)
	}
	if decoded.Fields["size"].GetNumberValue() != message.Fields["size"].GetNumberValue() {
		t.Error("decoded Protocol Buffers message did not match original:", decoded, "!=", message)
	}
}

const (
	// testProtobufEncodingNMessages is the number of messages to send/receive
	// in TestProtobufEncoding.
	testProtobufEncodingNMessages = 100
	// testProtobufSingleEncodingNMessage is the number of messages to
	// send/receive in TestProtobufSingleEncoding.
	testProtobufSingleEncodingNMessage = 10
)

func TestProtobufEncoding(t *testing.T) {
	// Create a buffer to use as our stream.
	stream := &bytes.Buffer{}

	// Create an encoder/decoder pair.
	encoder := NewProtobufEncoder(stream)
	decoder := NewProtobufDecoder(stream)

	// Write a sequence of messages with increasing size values.
	for i := 0; i < testProtobufEncodingNMessages; i++ {
		if err := encoder.Encode(testManifest("/root", float64(i))); err != nil {
			t.Fatal("unable to encode message:", err)
		}
	}

	// Read a sequence of messages and verify their size values.
	for i := 0; i < testProtobufEncodingNMessages; i++ {
		message := &structpb.Struct{}
		if err := decoder.Decode(message); err != nil {
			t.Fatal("unable to decode message:", err)
		} else if message.Fields["path"].GetStringValue() != "/root" {
			t.Error("path mismatch in received message")
		} else if message.Fields["size"].GetNumberValue() != float64(i) {
			t.Error("size mismatch in received message")
		}
	}
}

func TestProtobufSingleEncoding(t *testing.T) {
	// Create a buffer to use as our stream.
	stream := &bytes.Buffer{}

	// Write a sequence of messages with increasing size values.
	for i := 0; i < testProtobufSingleEncodingNMessage; i++ {
		if err := EncodeProtobuf(stream, testManifest("/root", float64(i))); err != nil {
			t.Fatal("unable to encode message:", err)
		}
	}

	// Read a sequence of messages and verify their size values.
	for i := 0; i < testProtobufSingleEncodingNMessage; i++ {
		message := &structpb.Struct{}
		if err := DecodeProtobuf(stream, message); err != nil {
			t.Fatal("unable to decode message:", err)
		} else if message.Fields["path"].GetStringValue() != "/root" {
			t.Error("path mismatch in received message")
		} else if message.Fields["size"].GetNumberValue() != float64(i) {
			t.Error("size mismatch in received message")
		}
	}
}
