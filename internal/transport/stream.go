package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/peertree/msgtree/internal/database"
	"github.com/peertree/msgtree/internal/wire"
)

const (
	frameEnvelope        byte = 1
	frameArchiveRequest  byte = 2
	frameArchiveResponse byte = 3
	frameChecksumRequest  byte = 4
	frameChecksumResponse byte = 5
)

func writeFrame(w io.Writer, kind byte, body []byte) error {
	header := make([]byte, 5)
	header[0] = kind
	binary.BigEndian.PutUint32(header[1:], uint32(len(body)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func readFrame(r io.Reader) (byte, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	body := make([]byte, binary.BigEndian.Uint32(header[1:]))
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return header[0], body, nil
}

// TCPStream implements Stream with one persistent connection per peer and
// length-prefixed CBOR frames.
type TCPStream struct{}

// NewTCPStream returns a ready-to-use TCPStream.
func NewTCPStream() *TCPStream { return &TCPStream{} }

func (s *TCPStream) Dial(ctx context.Context, addr string) (PeerConn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpPeerConn{conn: conn, r: bufio.NewReader(conn)}, nil
}

func (s *TCPStream) Serve(ctx context.Context, addr string, handler Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go serveConn(conn, handler)
	}
}

func (s *TCPStream) Close() error { return nil }

func serveConn(conn net.Conn, handler Handler) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		kind, body, err := readFrame(r)
		if err != nil {
			return
		}
		switch kind {
		case frameEnvelope:
			var env wire.Envelope
			if wire.Unmarshal(body, &env) == nil {
				_ = handler.HandleEnvelope(env)
			}
		case frameArchiveRequest:
			var idx int32
			if wire.Unmarshal(body, &idx) == nil {
				archive, err := handler.HandleArchiveRequest(int(idx))
				if err == nil {
					resp, _ := wire.Marshal(archive)
					_ = writeFrame(conn, frameArchiveResponse, resp)
				}
			}
		case frameChecksumRequest:
			var idx int32
			if wire.Unmarshal(body, &idx) == nil {
				sum, err := handler.HandleChecksumRequest(int(idx))
				if err == nil {
					resp, _ := wire.Marshal(sum)
					_ = writeFrame(conn, frameChecksumResponse, resp)
				}
			}
		}
	}
}

type tcpPeerConn struct {
	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

func (c *tcpPeerConn) SendEnvelope(ctx context.Context, env wire.Envelope) error {
	body, err := wire.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeFrame(c.conn, frameEnvelope, body)
}

func (c *tcpPeerConn) RequestArchive(ctx context.Context, databaseIndex int) (database.Archive, error) {
	body, err := wire.Marshal(int32(databaseIndex))
	if err != nil {
		return database.Archive{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := writeFrame(c.conn, frameArchiveRequest, body); err != nil {
		return database.Archive{}, err
	}
	kind, resp, err := readFrame(c.r)
	if err != nil {
		return database.Archive{}, err
	}
	if kind != frameArchiveResponse {
		return database.Archive{}, errors.New("transport: unexpected frame kind in archive response")
	}
	var archive database.Archive
	if err := wire.Unmarshal(resp, &archive); err != nil {
		return database.Archive{}, err
	}
	return archive, nil
}

func (c *tcpPeerConn) RequestChecksum(ctx context.Context, databaseIndex int) (uint32, error) {
	body, err := wire.Marshal(int32(databaseIndex))
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := writeFrame(c.conn, frameChecksumRequest, body); err != nil {
		return 0, err
	}
	kind, resp, err := readFrame(c.r)
	if err != nil {
		return 0, err
	}
	if kind != frameChecksumResponse {
		return 0, errors.New("transport: unexpected frame kind in checksum response")
	}
	var sum uint32
	if err := wire.Unmarshal(resp, &sum); err != nil {
		return 0, err
	}
	return sum, nil
}

func (c *tcpPeerConn) Close() error { return c.conn.Close() }
