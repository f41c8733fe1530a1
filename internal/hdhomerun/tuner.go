package hdhomerun

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/attaebra/hdhr-stream/internal/interfaces"
	"github.com/attaebra/hdhr-stream/internal/logger"
)

// ErrInvalidIdentity is returned for tuner identities not of the form "host-N".
var ErrInvalidIdentity = errors.New("invalid tuner identity")

// Options configures tuner handles.
type Options struct {
	// ControlTimeout bounds dialling and each control round trip.
	ControlTimeout time.Duration
	// VideoBufferSize is the receive buffer behind the video socket.
	VideoBufferSize int
}

// Tuner is a handle on one tuner of a device, addressed as "host-N".
type Tuner struct {
	identity string
	index    int
	control  *ControlClient
	opts     Options
	log      *logger.Logger

	mu      sync.Mutex
	lockkey uint32
	video   *VideoSocket
}

// Ensure Tuner implements the Tuner interface.
var _ interfaces.Tuner = (*Tuner)(nil)

// ParseIdentity splits "host-N" into host and tuner index.
func ParseIdentity(identity string) (string, int, error) {
	i := strings.LastIndexByte(identity, '-')
	if i <= 0 || i == len(identity)-1 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidIdentity, identity)
	}
	index, err := strconv.Atoi(identity[i+1:])
	if err != nil || index < 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidIdentity, identity)
	}
	return identity[:i], index, nil
}

// NewTuner creates a handle for identity. No network traffic happens until
// the first request.
func NewTuner(identity string, opts Options) (*Tuner, error) {
	host, index, err := ParseIdentity(identity)
	if err != nil {
		return nil, err
	}
	if opts.ControlTimeout <= 0 {
		opts.ControlTimeout = 2500 * time.Millisecond
	}
	return &Tuner{
		identity: identity,
		index:    index,
		control:  NewControlClient(host, opts.ControlTimeout),
		opts:     opts,
		log:      logger.With(logger.String("tuner", identity)),
	}, nil
}

// Factory returns a constructor suitable for device stream configuration.
func Factory(opts Options) func(identity string) (interfaces.Tuner, error) {
	return func(identity string) (interfaces.Tuner, error) {
		t, err := NewTuner(identity, opts)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

// Name returns the identity the handle was created with.
func (t *Tuner) Name() string {
	return t.identity
}

func (t *Tuner) path(name string) string {
	return fmt.Sprintf("/tuner%d/%s", t.index, name)
}

// Available reports whether the tuner is unlocked and not streaming anywhere.
func (t *Tuner) Available() (bool, error) {
	owner, err := t.control.Get(t.path("lockkey"))
	if err != nil {
		return false, err
	}
	if owner != "none" {
		return false, nil
	}
	target, err := t.control.Get(t.path("target"))
	if err != nil {
		return false, err
	}
	return target == "" || target == "none", nil
}

// Lock claims the tuner with a fresh lock key.
func (t *Tuner) Lock() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := uint32(rand.Int63n(0xFFFFFFFE)) + 1
	if _, err := t.control.Set(t.path("lockkey"), strconv.FormatUint(uint64(key), 10), t.lockkey); err != nil {
		return err
	}
	t.lockkey = key
	t.log.Debug("🔒 Tuner locked")
	return nil
}

// Unlock releases a lock taken by Lock. It is a no-op when not locked.
func (t *Tuner) Unlock() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lockkey == 0 {
		return nil
	}
	_, err := t.control.Set(t.path("lockkey"), "none", t.lockkey)
	t.lockkey = 0
	if err == nil {
		t.log.Debug("🔓 Tuner unlocked")
	}
	return err
}

func (t *Tuner) set(name, value string) error {
	t.mu.Lock()
	key := t.lockkey
	t.mu.Unlock()

	_, err := t.control.Set(t.path(name), value, key)
	return err
}

// SetChannel tunes to channel. A channel without a modulation prefix is
// sent as "auto:<channel>".
func (t *Tuner) SetChannel(channel string) error {
	if !strings.Contains(channel, ":") {
		channel = "auto:" + channel
	}
	return t.set("channel", channel)
}

// SetProgram selects a program on the tuned channel.
func (t *Tuner) SetProgram(program string) error {
	return t.set("program", program)
}

// ClearChannel resets the tuner channel.
func (t *Tuner) ClearChannel() error {
	return t.set("channel", "none")
}

// StreamStart opens a local video socket and points the tuner target at it.
func (t *Tuner) StreamStart() error {
	t.mu.Lock()
	running := t.video != nil
	t.mu.Unlock()
	if running {
		return nil
	}

	ip, err := t.control.LocalIP()
	if err != nil {
		return err
	}
	video, err := ListenVideo(ip, t.opts.VideoBufferSize)
	if err != nil {
		return err
	}

	target := "rtp://" + net.JoinHostPort(ip.String(), strconv.Itoa(video.Addr().Port))
	if err := t.set("target", target); err != nil {
		_ = video.Close()
		return err
	}

	t.mu.Lock()
	t.video = video
	t.mu.Unlock()
	t.log.Debug("📺 Tuner streaming", logger.String("target", target))
	return nil
}

// Recv returns buffered video without blocking.
func (t *Tuner) Recv(limit int) ([]byte, error) {
	t.mu.Lock()
	video := t.video
	t.mu.Unlock()
	if video == nil {
		return nil, errors.New("tuner is not streaming")
	}
	return video.Recv(limit)
}

// StreamStop clears the tuner target and closes the video socket.
func (t *Tuner) StreamStop() {
	t.mu.Lock()
	video := t.video
	t.video = nil
	t.mu.Unlock()
	if video == nil {
		return
	}

	if err := t.set("target", "none"); err != nil {
		t.log.Warn("⚠️ Failed to clear tuner target", logger.ErrorField("error", err))
	}
	if err := video.Close(); err != nil {
		t.log.Debug("Video socket close", logger.ErrorField("error", err))
	}
	if n := video.Dropped(); n > 0 {
		t.log.Warn("⚠️ Video datagrams dropped", logger.Int64("dropped", int64(n)))
	}
}

// Close stops streaming and drops the control connection. It does not
// release the lock; callers Unlock first.
func (t *Tuner) Close() error {
	t.StreamStop()
	return t.control.Close()
}
