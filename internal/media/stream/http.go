package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/valyala/bytebufferpool"

	"github.com/attaebra/hdhr-stream/internal/constants"
	"github.com/attaebra/hdhr-stream/internal/interfaces"
	"github.com/attaebra/hdhr-stream/internal/logger"
	"github.com/attaebra/hdhr-stream/internal/media/buffer"
	"github.com/attaebra/hdhr-stream/internal/metrics"
	"github.com/attaebra/hdhr-stream/internal/utils"
)

// ErrTransferStalled is returned when no body data arrives within the stall timeout.
var ErrTransferStalled = errors.New("transfer stalled")

// HTTPStatusError reports a non-success HTTP response.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP status %d from %s", e.StatusCode, e.URL)
}

// HTTPConfig configures an HTTPStream.
type HTTPConfig struct {
	// Client performs requests. Nil uses a streaming client with default timeouts.
	Client interfaces.Client

	// BufferSize is the ring buffer capacity, rounded up to 64KiB.
	BufferSize int

	// ReadMinCount is the amount a read waits for before returning, rounded
	// down to the packet size (minimum one packet).
	ReadMinCount int

	// ChunkSize bounds how much body data a single transfer step pulls.
	ChunkSize int

	// StallTimeout aborts the transfer when the body yields nothing for this long.
	// Zero disables stall detection.
	StallTimeout time.Duration

	UserAgent string
}

type transferState int

const (
	stateConstructing transferState = iota
	stateStreaming
	statePaused
	stateClosed
)

func (s transferState) String() string {
	switch s {
	case stateConstructing:
		return "constructing"
	case stateStreaming:
		return "streaming"
	case statePaused:
		return "paused"
	default:
		return "closed"
	}
}

// HTTPStream reads a progressive HTTP download through a ring buffer.
//
// The transfer is driven only from within Read, Seek and construction: each
// call pumps the response body on the caller's goroutine until it has what it
// needs.
type HTTPStream struct {
	cfg      HTTPConfig
	client   interfaces.Client
	template *http.Request
	log      *logger.Logger

	ring    *buffer.Ring
	pool    *buffer.Pool
	readMin int

	state   transferState
	cancel  context.CancelFunc
	resp    *http.Response
	chunk   *bytebufferpool.ByteBuffer
	pending []byte
	done    bool
	err     error

	canSeek   bool
	realtime  bool
	length    int64
	mediaType string

	startPos int64
	readPos  int64
	writePos int64
}

// Ensure HTTPStream implements the Stream interface.
var _ interfaces.Stream = (*HTTPStream)(nil)

// NewHTTPStream opens rawURL and blocks until the response headers have been
// processed and the first body bytes are buffered.
func NewHTTPStream(rawURL string, cfg HTTPConfig) (*HTTPStream, error) {
	start := time.Now()
	s, err := newHTTPStream(rawURL, cfg)
	metrics.ObserveStreamOpen(metrics.KindHTTP, err, time.Since(start))
	return s, err
}

func newHTTPStream(rawURL string, cfg HTTPConfig) (*HTTPStream, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid stream URL %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported stream URL scheme %q", u.Scheme)
	}

	template, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", u.Redacted(), err)
	}
	if cfg.UserAgent != "" {
		template.Header.Set("User-Agent", cfg.UserAgent)
	}

	client := cfg.Client
	if client == nil {
		client = utils.HTTPClient(3*time.Second, 10*time.Second)
	}

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = constants.DefaultBufferSize
	}
	ring := buffer.NewRing(cfg.BufferSize)

	readMin := cfg.ReadMinCount
	if readMin <= 0 {
		readMin = constants.DefaultReadMinCount
	}
	readMin = max(buffer.AlignDown(readMin, constants.PacketSize), constants.PacketSize)

	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = constants.DefaultIngestChunkSize
	}
	chunkSize = min(chunkSize, ring.Capacity()/4)

	s := &HTTPStream{
		cfg:      cfg,
		client:   client,
		template: template,
		log: logger.With(
			logger.String("stream_id", uuid.NewString()),
			logger.String("kind", metrics.KindHTTP)),
		ring:    ring,
		pool:    buffer.NewPool(chunkSize),
		readMin: readMin,
		length:  constants.UnknownLength,
	}
	s.chunk = s.pool.Get()

	s.log.Debug("📡 Opening HTTP stream",
		logger.String("url", u.Redacted()),
		logger.String("buffer", humanize.IBytes(uint64(ring.Capacity()))),
		logger.Int("read_min", readMin))

	if err := s.construct(0); err != nil {
		s.Close()
		return nil, err
	}

	s.log.Info("▶️  HTTP stream open",
		logger.String("media_type", s.mediaType),
		logger.Bool("can_seek", s.canSeek),
		logger.Bool("realtime", s.realtime),
		logger.Int64("length", s.length))
	return s, nil
}

// request issues a ranged GET from pos on a fresh cancellable context.
func (s *HTTPStream) request(pos int64) (*http.Request, *http.Response, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	req := s.template.Clone(ctx)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", pos))

	resp, err := s.client.Do(req)
	if err != nil {
		return req, nil, fmt.Errorf("request to %s failed: %w", req.URL.Redacted(), err)
	}
	s.resp = resp
	return req, resp, nil
}

// construct starts a transfer at pos and pumps until the first body bytes
// land in the ring buffer (or the transfer ends). Positions change only once
// the server has answered.
func (s *HTTPStream) construct(pos int64) error {
	s.state = stateConstructing

	req, resp, err := s.request(pos)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		if length, ok := unsatisfiedRangeLength(resp.Header.Get("Content-Range")); ok {
			// Seek at or beyond the end: an empty, finished transfer. The
			// server evaluated the range, so it supports them.
			s.canSeek = true
			s.length, s.realtime = length, false
			s.startPos, s.readPos, s.writePos = length, length, length
			s.done = true
			s.state = stateStreaming
			return nil
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPStatusError{URL: req.URL.Redacted(), StatusCode: resp.StatusCode}
	}

	s.applyHeaders(resp)
	s.state = stateStreaming

	return s.transferUntil(func() bool { return s.ring.Readable() > 0 })
}

// applyHeaders derives seekability, positions, length and media type.
func (s *HTTPStream) applyHeaders(resp *http.Response) {
	s.canSeek = strings.EqualFold(strings.TrimSpace(resp.Header.Get("Accept-Ranges")), "bytes")
	s.mediaType = resp.Header.Get("Content-Type")

	length := constants.UnknownLength
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if start, total, ok := parseContentRange(cr); ok {
			s.startPos, s.readPos, s.writePos = start, start, start
			length = total
		}
	} else {
		// Full response: the body starts at zero whatever was asked for.
		s.startPos, s.readPos, s.writePos = 0, 0, 0
		if resp.ContentLength >= 0 {
			length = resp.ContentLength
		}
	}

	s.length = length
	s.realtime = length == constants.UnknownLength
}

// parseContentRange parses "bytes S-E/L" and "bytes S-E/*".
func parseContentRange(v string) (start, length int64, ok bool) {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "bytes ") {
		return 0, 0, false
	}
	spec, total, found := strings.Cut(strings.TrimPrefix(v, "bytes "), "/")
	if !found {
		return 0, 0, false
	}
	first, _, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || start < 0 {
		return 0, 0, false
	}
	if strings.TrimSpace(total) == "*" {
		return start, constants.UnknownLength, true
	}
	length, err = strconv.ParseInt(strings.TrimSpace(total), 10, 64)
	if err != nil || length < 0 {
		return 0, 0, false
	}
	return start, length, true
}

// unsatisfiedRangeLength parses "bytes */L".
func unsatisfiedRangeLength(v string) (int64, bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(v), "bytes */")
	if !found {
		return 0, false
	}
	length, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil || length < 0 {
		return 0, false
	}
	return length, true
}

// transferUntil drives the transfer until pred holds, the transfer completes
// or fails, or the ring buffer is too full to accept pending data.
func (s *HTTPStream) transferUntil(pred func() bool) error {
	for !pred() {
		if s.err != nil {
			return s.err
		}

		if s.state == statePaused {
			if s.resume() == 0 {
				return nil
			}
			continue
		}

		if s.done {
			return nil
		}

		if err := s.step(); err != nil {
			s.err = err
			s.log.Warn("⚠️  Transfer ended with error, draining buffered data",
				logger.Int64("write_pos", s.writePos),
				logger.ErrorField("error", err))
			return err
		}
	}
	return nil
}

// step performs one body read and ingests whatever arrived.
func (s *HTTPStream) step() error {
	var (
		stall   *time.Timer
		stalled atomic.Bool
	)
	if s.cfg.StallTimeout > 0 {
		cancel := s.cancel
		stall = time.AfterFunc(s.cfg.StallTimeout, func() {
			stalled.Store(true)
			cancel()
		})
	}

	n, err := s.resp.Body.Read(s.chunk.B)
	fired := stall != nil && !stall.Stop()

	if n > 0 {
		s.ingest(s.chunk.B[:n])
	}

	switch {
	case errors.Is(err, io.EOF):
		s.done = true
		s.log.Debug("🏁 Transfer complete", logger.Int64("write_pos", s.writePos))
		return nil
	case fired && n > 0:
		// The timer cancelled a transfer that was still delivering.
		return s.reconnect()
	case err == nil:
		return nil
	case stalled.Load():
		return fmt.Errorf("%w after %s at offset %d", ErrTransferStalled, s.cfg.StallTimeout, s.writePos)
	default:
		return fmt.Errorf("transfer failed at offset %d: %w", s.writePos, err)
	}
}

// reconnect replaces the transfer with one that continues right after the
// last byte received, keeping the ring buffer and pending data.
func (s *HTTPStream) reconnect() error {
	pos := s.writePos + int64(len(s.pending))
	if !s.canSeek {
		return fmt.Errorf("%w after %s at offset %d", ErrTransferStalled, s.cfg.StallTimeout, pos)
	}

	s.log.Debug("🔄 Stall timer cancelled a live transfer, reconnecting", logger.Int64("offset", pos))
	s.endTransfer()

	req, resp, err := s.request(pos)
	if err != nil {
		return err
	}
	metrics.StreamRestartTotal.Inc()

	switch resp.StatusCode {
	case http.StatusRequestedRangeNotSatisfiable:
		s.done = true
		return nil
	case http.StatusPartialContent:
		cr := resp.Header.Get("Content-Range")
		if start, _, ok := parseContentRange(cr); !ok || start != pos {
			return fmt.Errorf("reconnect at offset %d answered with range %q", pos, cr)
		}
		return nil
	default:
		return &HTTPStatusError{URL: req.URL.Redacted(), StatusCode: resp.StatusCode}
	}
}

// ingest copies delivered body bytes into the ring. Whatever does not fit is
// kept as pending and the transfer pauses until a reader makes room.
func (s *HTTPStream) ingest(data []byte) {
	n := s.ring.Write(data)
	s.writePos += int64(n)
	if n < len(data) {
		s.pending = data[n:]
		s.state = statePaused
	}
}

// resume flushes pending bytes into the ring and returns how many moved.
func (s *HTTPStream) resume() int {
	n := s.ring.Write(s.pending)
	s.writePos += int64(n)
	s.pending = s.pending[n:]
	if len(s.pending) == 0 {
		s.pending = nil
		s.state = stateStreaming
	}
	return n
}

// ReadPackets copies buffered stream data into p. The request is aligned
// down to whole packets and, once a full packet is available, the copy ends
// on a packet boundary. 0 is returned only when the transfer is over and the
// buffer is drained.
func (s *HTTPStream) ReadPackets(p []byte) int {
	if s.state == stateClosed {
		return 0
	}

	count := buffer.AlignDown(len(p), constants.PacketSize)
	if count == 0 {
		return 0
	}

	want := min(count, s.readMin, s.ring.Capacity()-1)
	// A failed transfer was logged when it failed; buffered data still drains.
	_ = s.transferUntil(func() bool { return s.ring.Readable() >= want })

	n := min(s.ring.Readable(), count)
	if n >= constants.PacketSize {
		end := s.readPos + int64(n)
		end -= end % constants.PacketSize
		if end > s.readPos {
			n = int(end - s.readPos)
		}
	}

	n = s.ring.Read(p[:n])
	s.readPos += int64(n)
	metrics.AddStreamBytes(metrics.KindHTTP, n)

	if n == 0 {
		s.log.Debug("🏁 End of stream", logger.Int64("position", s.readPos))
	}
	return n
}

// Seek repositions the stream. Targets inside the buffered window only move
// the read cursor; anything else restarts the transfer with a byte range.
// Returns SeekUnsupported with an error when the stream is not seekable or
// the restart fails; the position is then left where it was.
func (s *HTTPStream) Seek(offset int64, whence int) (int64, error) {
	if s.state == stateClosed || !s.canSeek {
		metrics.IncSeek("unsupported")
		return SeekUnsupported, ErrSeekUnsupported
	}

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = addClamped(s.readPos, offset)
	case io.SeekEnd:
		if s.realtime {
			metrics.IncSeek("unsupported")
			return SeekUnsupported, fmt.Errorf("%w: end of a live stream", ErrSeekUnsupported)
		}
		target = addClamped(s.length, offset)
	default:
		return SeekUnsupported, fmt.Errorf("invalid whence %d", whence)
	}
	if target < 0 {
		target = 0
	}

	if target == s.readPos {
		return s.readPos, nil
	}

	minPos := max(s.startPos, s.writePos-int64(s.ring.Capacity()-1))
	if target >= minPos && (target < s.writePos || (target == s.writePos && s.done && s.err == nil)) {
		var err error
		if delta := target - s.readPos; delta < 0 {
			err = s.ring.Rewind(int(-delta))
		} else {
			err = s.ring.Skip(int(delta))
		}
		if err == nil {
			s.readPos = target
			metrics.IncSeek("buffer")
			s.log.Debug("⏩ Seek within buffer", logger.Int64("position", target))
			return target, nil
		}
		s.log.Warn("⚠️  Buffered seek rejected, restarting transfer", logger.ErrorField("error", err))
	}

	if err := s.restart(target); err != nil {
		s.log.Error("❌ Seek restart failed",
			logger.Int64("target", target),
			logger.ErrorField("error", err))
		return SeekUnsupported, err
	}
	metrics.IncSeek("restart")
	return s.readPos, nil
}

// addClamped adds without overflowing past MaxPosition.
func addClamped(base, offset int64) int64 {
	if offset > 0 && base > constants.MaxPosition-offset {
		return constants.MaxPosition
	}
	return base + offset
}

// restart tears down the current transfer and starts a new one at pos on
// the same client and request template. On failure the stream keeps its old
// position with nothing buffered.
func (s *HTTPStream) restart(pos int64) error {
	defer utils.TimeOperation(fmt.Sprintf("restart transfer at %d", pos))()
	metrics.StreamRestartTotal.Inc()

	prev := s.readPos
	s.endTransfer()
	s.ring.Reset()
	s.pending = nil
	s.done = false
	s.err = nil

	if err := s.construct(pos); err != nil {
		s.err = err
		s.ring.Reset()
		s.pending = nil
		s.startPos, s.readPos, s.writePos = prev, prev, prev
		return err
	}
	return nil
}

func (s *HTTPStream) endTransfer() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.resp != nil {
		utils.CloseWithLogging(s.resp.Body, "HTTP stream body")
		s.resp = nil
	}
}

// Close aborts the transfer and releases its buffers.
func (s *HTTPStream) Close() {
	if s.state == stateClosed {
		return
	}
	s.endTransfer()
	s.state = stateClosed
	s.pending = nil
	s.pool.Put(s.chunk)
	s.chunk = nil
	s.log.Debug("⏹️  HTTP stream closed", logger.Int64("position", s.readPos))
}

// CanSeek reports whether the server accepts byte ranges.
func (s *HTTPStream) CanSeek() bool { return s.canSeek }

// Length returns the total length, or UnknownLength for real-time streams.
func (s *HTTPStream) Length() int64 {
	if s.realtime {
		return constants.UnknownLength
	}
	return s.length
}

// Position returns the absolute read position.
func (s *HTTPStream) Position() int64 { return s.readPos }

// MediaType returns the response Content-Type.
func (s *HTTPStream) MediaType() string { return s.mediaType }

// IsRealtime reports whether the stream has no known length.
func (s *HTTPStream) IsRealtime() bool { return s.realtime }
