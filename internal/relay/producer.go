package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ccrisan/streameye/internal/servicelog"
)

const (
	// InputBufLen bounds a single stdin read, matching INPUT_BUF_LEN.
	InputBufLen = 1024 * 1024
	// autoSeparator is JPEG_END ++ JPEG_START: the EOI/SOI junction
	// streamEye splits frames on when no explicit separator is given.
	autoSeparator = "\xFF\xD9\xFF\xD8"
	jpegEndLen    = 2 // len("\xFF\xD9")
)

// pacing tuning constants, named per DESIGN NOTES: tuning parameters,
// not behavior to reinvent.
const (
	ewmaDecay        = 0.7
	ewmaGain         = 0.3
	pacingMultiplier = 4
	pacingMinMicros  = 1000
	pacingMaxMicros  = 50000
)

// Producer reads stdin, carves JPEG frames, publishes them to the
// FrameHub, accepts new clients right after each publication, and
// paces itself against the slowest still-acceptable client. It is the
// Go counterpart of the main loop in the original streameye.c.
type Producer struct {
	input      io.Reader
	listener   net.Listener
	hub        *FrameHub
	registry   *ClientRegistry
	auth       *AuthConfig
	metrics    *Metrics
	clock      Clock
	log        servicelog.Logger
	running    *Running
	timeout    time.Duration
	separator  []byte
	autoSep    bool
	wg         sync.WaitGroup
	acceptConn chan net.Conn
	acceptDone chan struct{}
}

// inputChunk is one completed (or failed) read from stdin, handed from
// feedInput to Run over a channel.
type inputChunk struct {
	data []byte
	err  error
}

// NewProducer wires a producer from its collaborators. separator, if
// nil, selects auto mode (the FF D9 FF D8 junction).
func NewProducer(input io.Reader, listener net.Listener, hub *FrameHub, registry *ClientRegistry,
	auth *AuthConfig, metrics *Metrics, clock Clock, log servicelog.Logger, running *Running,
	timeout time.Duration, separator []byte) *Producer {

	p := &Producer{
		input:      input,
		listener:   listener,
		hub:        hub,
		registry:   registry,
		auth:       auth,
		metrics:    metrics,
		clock:      clock,
		log:        log,
		running:    running,
		timeout:    timeout,
		acceptConn: make(chan net.Conn, 16),
		acceptDone: make(chan struct{}),
	}
	if separator == nil {
		p.autoSep = true
		p.separator = []byte(autoSeparator)
	} else {
		p.separator = separator
	}
	return p
}

// acceptFeeder translates the listener's blocking Accept() into the
// non-blocking connection source the main loop expects -- the
// Go-idiomatic equivalent of the original's O_NONBLOCK listening
// socket (see DESIGN NOTES, "Non-blocking accept").
func (p *Producer) acceptFeeder() {
	defer close(p.acceptDone)
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			p.log.Error("accept() failed", servicelog.Error(err))
			continue
		}
		select {
		case p.acceptConn <- conn:
		default:
			// Feeder outran the producer; shed this connection rather
			// than block the accept loop indefinitely.
			conn.Close()
		}
	}
}

// tryAcceptOne drains at most one pending connection, only when the
// registry has room, and spawns its worker goroutine. The session is
// reserved in the registry synchronously, before the goroutine starts,
// so the capacity gate counts it from accept time -- matching the
// original's synchronous `clients[num_clients++] = client` right after
// accept (streameye.c), rather than only once the handshake finishes.
func (p *Producer) tryAcceptOne() {
	if !p.registry.HasRoom() {
		return
	}
	select {
	case conn := <-p.acceptConn:
		tuneSocket(conn, p.log)
		session := newClientSession(conn, p.timeout, p.clock, p.log)
		p.log.Info("new client connection", servicelog.String("addr", session.addr), servicelog.Int("port", session.port))
		p.registry.Insert(session)
		if p.metrics != nil {
			p.metrics.ClientsConnected.Inc()
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer p.registry.Remove(session)
			defer func() {
				if p.metrics != nil {
					p.metrics.ClientsConnected.Dec()
				}
			}()
			session.serve(p.hub, p.auth, p.running)
		}()
	default:
	}
}

// feedInput runs on its own goroutine so that a blocking stdin read
// never prevents Run from observing shutdown: os.Stdin.Read, unlike
// the original's read(STDIN_FILENO), is not interrupted by a signal
// delivered elsewhere. It mirrors acceptFeeder's feeder/channel shape.
func (p *Producer) feedInput(reads chan<- inputChunk) {
	defer close(reads)
	for {
		buf := make([]byte, InputBufLen)
		n, err := p.input.Read(buf)
		chunk := inputChunk{data: buf[:n], err: err}
		select {
		case reads <- chunk:
		case <-p.running.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// Run is the main loop: read, carve, publish, pace, accept, repeat.
// It returns when input hits EOF or running is cleared, having first
// performed the full shutdown sequence described in SPEC_FULL.md
// §4.2.
func (p *Producer) Run(ctx context.Context) error {
	go p.acceptFeeder()

	reads := make(chan inputChunk)
	go p.feedInput(reads)

	var (
		accumulator   []byte
		inputInterval float64
		lastFrameTime = p.clock.Now()
	)

runLoop:
	for {
		var chunk inputChunk
		select {
		case c, ok := <-reads:
			if !ok {
				break runLoop
			}
			chunk = c
		case <-p.running.Done():
			break runLoop
		case <-ctx.Done():
			p.running.Stop()
			break runLoop
		}

		if len(chunk.data) == 0 && chunk.err != nil {
			if chunk.err == io.EOF {
				p.log.Debug("input: end of stream")
			} else {
				p.log.Error("input: read() failed", servicelog.Error(chunk.err))
			}
			break
		}

		if len(chunk.data) > MinFrameCapacity-1-len(accumulator) {
			p.log.Error("input: jpeg size too large, discarding buffer")
			if p.metrics != nil {
				p.metrics.FrameDiscards.Inc()
			}
			accumulator = accumulator[:0]
			if chunk.err != nil {
				break
			}
			continue
		}
		accumulator = append(accumulator, chunk.data...)

		lookBehind := 2 * InputBufLen
		if lookBehind > len(accumulator) {
			lookBehind = len(accumulator)
		}
		searchFrom := len(accumulator) - lookBehind
		idx := bytes.Index(accumulator[searchFrom:], p.separator)

		if idx < 0 {
			if chunk.err != nil {
				break
			}
			continue
		}
		sepPos := searchFrom + idx

		var frameEnd, carryStart int
		if p.autoSep {
			frameEnd = sepPos + jpegEndLen
			carryStart = sepPos + jpegEndLen
		} else {
			frameEnd = sepPos
			carryStart = sepPos + len(p.separator)
		}

		frame := accumulator[:frameEnd]
		p.hub.Publish(frame)
		if p.metrics != nil {
			p.metrics.FramesPublished.Inc()
			p.metrics.FrameBytes.Observe(float64(len(frame)))
		}

		carry := append([]byte(nil), accumulator[carryStart:]...)
		accumulator = carry

		now := p.clock.Now()
		inputInterval = inputInterval*ewmaDecay + (now-lastFrameTime)*ewmaGain
		lastFrameTime = now
		if p.metrics != nil {
			p.metrics.InputIntervalSecs.Set(inputInterval)
		}

		p.paceAndAccept(inputInterval)

		if chunk.err != nil {
			break
		}
	}

	p.shutdown()
	return nil
}

// pacingSleepMicros computes the adaptive sleep, in microseconds,
// between publications: 4x the amount the producer is running ahead
// of its fastest client (the smallest client interval), clamped to
// [1000, 50000]. Returns 0 when the producer is not ahead at all. Pure function for testability.
func pacingSleepMicros(minClientInterval, inputInterval float64) float64 {
	adjustMicros := (minClientInterval - inputInterval) * 1_000_000
	if adjustMicros <= 0 {
		return 0
	}
	sleep := pacingMultiplier * adjustMicros
	if sleep < pacingMinMicros {
		sleep = pacingMinMicros
	}
	if sleep > pacingMaxMicros {
		sleep = pacingMaxMicros
	}
	return sleep
}

// paceAndAccept implements the adaptive-sleep back-pressure described
// in SPEC_FULL.md §4.2, then opens the accept gate for one tick.
func (p *Producer) paceAndAccept(inputInterval float64) {
	if p.registry.Len() > 0 {
		sleep := pacingSleepMicros(p.registry.MinInterval(), inputInterval)
		if sleep > 0 {
			if p.metrics != nil {
				p.metrics.PacingSleepMicros.Observe(sleep)
			}
			time.Sleep(time.Duration(sleep) * time.Microsecond)
		}
	}
	p.tryAcceptOne()
}

// shutdown performs the orderly drain: close the listener (which ends
// the accept feeder's loop), wake every waiting worker, join them all,
// then wait for the accept feeder to exit.
func (p *Producer) shutdown() {
	p.running.Stop()
	p.log.Debug("closing server")
	p.listener.Close()

	p.log.Debug("waiting for clients to finish")
	p.hub.WakeAll()
	p.wg.Wait()

	<-p.acceptDone
	p.log.Info("bye!")
}
