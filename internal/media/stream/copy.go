package stream

import (
	"context"
	"io"
	"time"

	"github.com/attaebra/hdhr-stream/internal/constants"
	"github.com/attaebra/hdhr-stream/internal/interfaces"
	"github.com/attaebra/hdhr-stream/internal/logger"
	"github.com/attaebra/hdhr-stream/internal/media/buffer"
	"github.com/attaebra/hdhr-stream/internal/utils"
)

const (
	// copyChunkSize is a whole number of packets.
	copyChunkSize = 348 * constants.PacketSize

	// maxEmptyReads ends a live copy after this many consecutive empty reads.
	maxEmptyReads = 10
)

var copyPool = buffer.NewPool(copyChunkSize)

// Copy reads s until end of stream or ctx is done and writes everything to
// dst. activity, when non-nil, is called at most once per second while data
// flows. An empty read ends a recorded stream; live streams are polled again
// until maxEmptyReads empty reads happen in a row.
func Copy(ctx context.Context, dst io.Writer, s interfaces.Stream, activity func()) (int64, error) {
	buf := copyPool.Get()
	defer copyPool.Put(buf)

	var written int64
	empty := 0
	lastActivity := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n := s.ReadPackets(buf.B)
		if n == 0 {
			empty++
			if !s.IsRealtime() || empty >= maxEmptyReads {
				return written, nil
			}
			logger.Debug("Empty read on live stream, polling again", logger.Int("empty_reads", empty))
			continue
		}
		empty = 0

		w, err := dst.Write(buf.B[:n])
		written += int64(w)
		if err != nil {
			if utils.IsConsumerGone(err) {
				logger.Debug("🔌 Consumer disconnected", logger.Int64("written", written))
				return written, nil
			}
			return written, err
		}

		if activity != nil && time.Since(lastActivity) >= time.Second {
			activity()
			lastActivity = time.Now()
		}
	}
}
