// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package streamtest_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/p2p"
	"github.com/ethersphere/replica/pkg/p2p/streamtest"
)

func TestRecorder(t *testing.T) {
	var answers = map[string]string{
		"Which store?":         "The one with the photos.",
		"Which branch?":        "Master.",
		"Is the prefix valid?": "Only if the version did not move.",
	}

	recorder := streamtest.New(
		streamtest.WithProtocols(
			newTestProtocol(func(_ context.Context, _ p2p.Peer, stream p2p.Stream) error {
				rw := bufio.NewReadWriter(bufio.NewReader(stream), bufio.NewWriter(stream))
				for {
					q, err := rw.ReadString('\n')
					if err != nil {
						if err == io.EOF {
							break
						}
						return fmt.Errorf("read: %w", err)
					}
					q = strings.TrimRight(q, "\n")
					if _, err = rw.WriteString(answers[q] + "\n"); err != nil {
						return fmt.Errorf("write: %w", err)
					}
					if err := rw.Flush(); err != nil {
						return fmt.Errorf("flush: %w", err)
					}
				}
				return nil
			}),
		),
	)

	ask := func(ctx context.Context, s p2p.Streamer, peer object.DeviceID, questions ...string) (answers []string, err error) {
		stream, err := s.NewStream(ctx, peer, testProtocolName, testProtocolVersion, testStreamName)
		if err != nil {
			return nil, fmt.Errorf("new stream: %w", err)
		}
		defer stream.Close()

		rw := bufio.NewReadWriter(bufio.NewReader(stream), bufio.NewWriter(stream))

		for _, q := range questions {
			if _, err := rw.WriteString(q + "\n"); err != nil {
				return nil, fmt.Errorf("write: %w", err)
			}
			if err := rw.Flush(); err != nil {
				return nil, fmt.Errorf("flush: %w", err)
			}

			a, err := rw.ReadString('\n')
			if err != nil {
				return nil, fmt.Errorf("read: %w", err)
			}
			a = strings.TrimRight(a, "\n")
			answers = append(answers, a)
		}
		return answers, nil
	}

	questions := []string{"Which store?", "Which branch?", "Is the prefix valid?"}

	aa, err := ask(context.Background(), recorder, object.ZeroDevice, questions...)
	if err != nil {
		t.Fatal(err)
	}

	for i, q := range questions {
		if aa[i] != answers[q] {
			t.Errorf("got answer %q for question %q, want %q", aa[i], q, answers[q])
		}
	}

	_, err = recorder.Records(object.ZeroDevice, testProtocolName, testProtocolVersion, "invalid stream name")
	if err != streamtest.ErrRecordsNotFound {
		t.Errorf("got error %v, want %v", err, streamtest.ErrRecordsNotFound)
	}

	records, err := recorder.Records(object.ZeroDevice, testProtocolName, testProtocolVersion, testStreamName)
	if err != nil {
		t.Fatal(err)
	}

	if l := len(records); l != 1 {
		t.Fatalf("got %v records, want 1", l)
	}

	record := records[0]

	if err := record.Err(); err != nil {
		t.Fatalf("got error from record %v, want nil", err)
	}

	wantIn := "Which store?\nWhich branch?\nIs the prefix valid?\n"
	gotIn := string(record.In())
	if gotIn != wantIn {
		t.Errorf("got stream in %q, want %q", gotIn, wantIn)
	}

	wantOut := "The one with the photos.\nMaster.\nOnly if the version did not move.\n"
	gotOut := string(record.Out())
	if gotOut != wantOut {
		t.Errorf("got stream out %q, want %q", gotOut, wantOut)
	}
}

func TestRecorder_errStreamNotSupported(t *testing.T) {
	r := streamtest.New()

	_, err := r.NewStream(context.Background(), object.ZeroDevice, "testing", "1.0.1", "messages")
	if !errors.Is(err, streamtest.ErrStreamNotSupported) {
		t.Fatalf("got error %v, want %v", err, streamtest.ErrStreamNotSupported)
	}
}

func TestRecorder_versionMismatch(t *testing.T) {
	r := streamtest.New(streamtest.WithProtocols(newTestProtocol(func(context.Context, p2p.Peer, p2p.Stream) error {
		return nil
	})))

	_, err := r.NewStream(context.Background(), object.ZeroDevice, testProtocolName, "2.0.0", testStreamName)
	if !errors.Is(err, streamtest.ErrStreamNotSupported) {
		t.Fatalf("got error %v, want %v", err, streamtest.ErrStreamNotSupported)
	}
}

func TestRecorder_streamError(t *testing.T) {
	errRefused := errors.New("refused")
	peer := object.NewDeviceID()
	r := streamtest.New(
		streamtest.WithProtocols(newTestProtocol(func(context.Context, p2p.Peer, p2p.Stream) error {
			return nil
		})),
		streamtest.WithStreamError(func(d object.DeviceID, _, _, _ string) error {
			if d == peer {
				return errRefused
			}
			return nil
		}),
	)

	if _, err := r.NewStream(context.Background(), peer, testProtocolName, testProtocolVersion, testStreamName); !errors.Is(err, errRefused) {
		t.Fatalf("got error %v, want %v", err, errRefused)
	}
	s, err := r.NewStream(context.Background(), object.NewDeviceID(), testProtocolName, testProtocolVersion, testStreamName)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.FullClose()
}

func TestRecorder_closeAfterPartialWrite(t *testing.T) {
	recorder := streamtest.New(
		streamtest.WithProtocols(
			newTestProtocol(func(_ context.Context, _ p2p.Peer, stream p2p.Stream) error {
				// just try to read the message that it terminated with
				// a new line character
				_, err := bufio.NewReader(stream).ReadString('\n')
				return err
			}),
		),
	)

	request := func(ctx context.Context, s p2p.Streamer, peer object.DeviceID) (err error) {
		stream, err := s.NewStream(ctx, peer, testProtocolName, testProtocolVersion, testStreamName)
		if err != nil {
			return fmt.Errorf("new stream: %w", err)
		}
		defer stream.Close()

		rw := bufio.NewReadWriter(bufio.NewReader(stream), bufio.NewWriter(stream))

		// write a message, but do not write a new line character for handler to
		// know that it is complete
		if _, err := rw.WriteString("unterminated message"); err != nil {
			return fmt.Errorf("write: %w", err)
		}
		if err := rw.Flush(); err != nil {
			return fmt.Errorf("flush: %w", err)
		}

		// deliberately close the stream before the new line character is
		// written to the stream
		if err := stream.Close(); err != nil {
			return err
		}

		// stream should be closed and read should return EOF
		if _, err := rw.ReadString('\n'); err != io.EOF {
			return fmt.Errorf("got error %v, want %v", err, io.EOF)
		}

		return nil
	}

	err := request(context.Background(), recorder, object.ZeroDevice)
	if err != nil {
		t.Fatal(err)
	}

	records, err := recorder.Records(object.ZeroDevice, testProtocolName, testProtocolVersion, testStreamName)
	if err != nil {
		t.Fatal(err)
	}

	if l := len(records); l != 1 {
		t.Fatalf("got %v records, want 1", l)
	}

	record := records[0]

	if err := record.Err(); err != nil {
		t.Fatalf("got error from record %v, want nil", err)
	}

	wantIn := "unterminated message"
	gotIn := string(record.In())
	if gotIn != wantIn {
		t.Errorf("got stream in %q, want %q", gotIn, wantIn)
	}

	wantOut := ""
	gotOut := string(record.Out())
	if gotOut != wantOut {
		t.Errorf("got stream out %q, want %q", gotOut, wantOut)
	}
}

// TestRecorder_manyWrites checks that a writer is never blocked by a
// reader that has not started consuming yet.
func TestRecorder_manyWrites(t *testing.T) {
	const writes = 1000

	recorder := streamtest.New(
		streamtest.WithProtocols(
			newTestProtocol(func(_ context.Context, _ p2p.Peer, stream p2p.Stream) error {
				for i := 0; i < writes; i++ {
					if _, err := stream.Write([]byte{byte(i)}); err != nil {
						return err
					}
				}
				return nil
			}),
		),
	)

	stream, err := recorder.NewStream(context.Background(), object.ZeroDevice, testProtocolName, testProtocolVersion, testStreamName)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.FullClose()

	records, err := recorder.Records(object.ZeroDevice, testProtocolName, testProtocolVersion, testStreamName)
	if err != nil {
		t.Fatal(err)
	}
	if err := records[0].Err(); err != nil {
		t.Fatal(err)
	}

	got, err := io.ReadAll(stream)
	if err != nil {
		t.Fatal(err)
	}
	want := make([]byte, writes)
	for i := range want {
		want[i] = byte(i)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %d bytes, want %d", len(got), len(want))
	}
}

func TestRecorder_peerProtocols(t *testing.T) {
	peer := object.NewDeviceID()
	base := object.NewDeviceID()
	seen := make(chan object.DeviceID, 1)

	recorder := streamtest.New(
		streamtest.WithBaseAddr(base),
		streamtest.WithPeerProtocols(map[object.DeviceID]p2p.ProtocolSpec{
			peer: newTestProtocol(func(_ context.Context, p p2p.Peer, _ p2p.Stream) error {
				seen <- p.Device
				return nil
			}),
		}),
	)

	s, err := recorder.NewStream(context.Background(), peer, testProtocolName, testProtocolVersion, testStreamName)
	if err != nil {
		t.Fatal(err)
	}
	defer s.FullClose()

	if got := <-seen; got != base {
		t.Fatalf("handler saw peer %s, want %s", got, base)
	}
	if n := recorder.Count(peer, testProtocolName, testProtocolVersion, testStreamName); n != 1 {
		t.Fatalf("got %d streams, want 1", n)
	}
}

const (
	testProtocolName    = "testing"
	testProtocolVersion = "1.0.1"
	testStreamName      = "messages"
)

func TestRecorder_cutOffs(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 100)
	recorder := streamtest.New(
		streamtest.WithProtocols(
			newTestProtocol(func(_ context.Context, _ p2p.Peer, stream p2p.Stream) error {
				for i := 0; i < 4; i++ {
					if _, err := stream.Write(payload[i*25 : (i+1)*25]); err != nil {
						return err
					}
				}
				return nil
			}),
		),
		streamtest.WithCutOffs(60, -1),
	)

	read := func() ([]byte, error) {
		stream, err := recorder.NewStream(context.Background(), object.ZeroDevice, testProtocolName, testProtocolVersion, testStreamName)
		if err != nil {
			return nil, err
		}
		defer stream.Close()
		return io.ReadAll(stream)
	}

	got, err := read()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 60 {
		t.Fatalf("got %d bytes on the cut stream, want 60", len(got))
	}
	got, err = read()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %d bytes on the intact stream, want %d", len(got), len(payload))
	}

	records, err := recorder.Records(object.ZeroDevice, testProtocolName, testProtocolVersion, testStreamName)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if !records[0].Cut() || !errors.Is(records[0].Err(), streamtest.ErrStreamClosed) {
		t.Errorf("first stream: got cut %v and error %v", records[0].Cut(), records[0].Err())
	}
	if records[1].Cut() || records[1].Err() != nil {
		t.Errorf("second stream: got cut %v and error %v", records[1].Cut(), records[1].Err())
	}
}

func newTestProtocol(h p2p.HandlerFunc) p2p.ProtocolSpec {
	return p2p.ProtocolSpec{
		Name:    testProtocolName,
		Version: testProtocolVersion,
		StreamSpecs: []p2p.StreamSpec{
			{
				Name:    testStreamName,
				Handler: h,
			},
		},
	}
}
