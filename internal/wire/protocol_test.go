package wire

import (
	"bytes"
	"testing"
)

func TestAudioFrameRoundTrip(t *testing.T) {
	original := NewAudioFrame(42, []byte{1, 2, 3, 4})

	encoded, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.AudioFrame == nil {
		t.Fatalf("decoded message has no AudioFrame")
	}
	if decoded.AudioFrame.Seq != 42 {
		t.Fatalf("seq = %d, want 42", decoded.AudioFrame.Seq)
	}
	if !bytes.Equal(decoded.AudioFrame.OpusBytes, []byte{1, 2, 3, 4}) {
		t.Fatalf("opus bytes mismatch: %v", decoded.AudioFrame.OpusBytes)
	}
}

func TestChatMessageRoundTrip(t *testing.T) {
	encoded, err := Encode(NewChatMessage("hello room"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.ChatMessage == nil || decoded.ChatMessage.Text != "hello room" {
		t.Fatalf("chat message mismatch: %+v", decoded.ChatMessage)
	}
}

func TestDecodeRejectsCorruptDatagram(t *testing.T) {
	if _, err := Decode([]byte{}); err == nil {
		t.Fatalf("expected error decoding empty datagram")
	}
	if _, err := Decode([]byte{99, 1, 2, 3}); err == nil {
		t.Fatalf("expected error decoding unknown kind tag")
	}
}
