package wire

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Frame{Type: TypeHello, Payload: []byte("alice_01")}

	if err := WriteFrame(&buf, want); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Type != want.Type || !bytes.Equal(got.Payload, want.Payload) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestReadFrameZeroLengthPayload(t *testing.T) {
	for _, typ := range []Type{TypeSigKeyRequest, TypeKemKeyRequest, TypeHmacVerifySuccess, TypeHmacVerifyFailure} {
		var buf bytes.Buffer
		if err := WriteFrame(&buf, Frame{Type: typ}); err != nil {
			t.Fatalf("WriteFrame(%s): %v", typ, err)
		}
		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame(%s): %v", typ, err)
		}
		if len(got.Payload) != 0 {
			t.Fatalf("%s: got payload %v, want empty", typ, got.Payload)
		}
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	header := make([]byte, 5)
	header[0] = byte(TypeEncryptedSecret)
	byteOrder.PutUint32(header[1:], MaxPayloadLen+1)

	if _, err := ReadFrame(bytes.NewReader(header)); err == nil {
		t.Fatal("expected error for declared length exceeding MaxPayloadLen")
	}
}

func TestReadFrameTruncatedHeader(t *testing.T) {
	// Only 3 of the 4 length bytes present, as in the seed test suite's
	// framing-truncation scenario.
	truncated := []byte{byte(TypeEncryptedSecret), 0x00, 0x00, 0x00}
	if _, err := ReadFrame(bytes.NewReader(truncated)); err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	header := make([]byte, 5)
	header[0] = byte(TypeSigPublicKey)
	byteOrder.PutUint32(header[1:], 10)
	// Declare 10 payload bytes but supply none.
	if _, err := ReadFrame(bytes.NewReader(header)); err == nil {
		t.Fatal("expected error for truncated payload")
	}
}

func TestConnDeadlineApplied(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := NewConn(client, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := conn.ReadFrame()
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected deadline-induced error, got nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadFrame did not respect configured deadline")
	}
}

func TestConnWriteReadOverPipe(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serverConn := NewConn(server, time.Second)
	clientConn := NewConn(client, time.Second)

	want := Frame{Type: TypeHmacTag, Payload: bytes.Repeat([]byte{0xAB}, 64)}

	errCh := make(chan error, 1)
	go func() {
		errCh <- clientConn.WriteFrame(want)
	}()

	got, err := serverConn.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if got.Type != want.Type || !bytes.Equal(got.Payload, want.Payload) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestReadFrameEOF(t *testing.T) {
	if _, err := ReadFrame(bytes.NewReader(nil)); err == nil {
		t.Fatal("expected error reading from empty stream")
	}
}
