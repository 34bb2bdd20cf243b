package capture

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/orrn/printsink/internal/config"
	"github.com/orrn/printsink/internal/escpos"
	"github.com/orrn/printsink/internal/observability"
)

var (
	ErrServerRunning    = errors.New("capture server already running")
	ErrServerNotRunning = errors.New("capture server not running")
	ErrBindFailed       = errors.New("failed to bind capture address")
)

const readBufferSize = 4096

// JobFunc receives every stored job. Callbacks run on the connection
// goroutine after the job is already in the history.
type JobFunc func(*Job)

// Server accepts raw printer connections and turns each connection's
// byte stream into one Job when the connection ends.
type Server struct {
	history *History
	parser  *escpos.Parser

	mu          sync.Mutex
	host        string
	port        int
	idleTimeout time.Duration
	maxJobBytes int64
	noiseFilter bool
	noiseMin    int
	listener    net.Listener
	conns       map[net.Conn]struct{}
	running     bool
	stopCh      chan struct{}
	totalJobs   uint64
	totalBytes  int64

	wg    sync.WaitGroup
	onJob []JobFunc
}

func NewServer(cfg *config.Config, history *History) *Server {
	page, _ := escpos.PageByName(cfg.Parser.DefaultCodepage)
	return &Server{
		history:     history,
		parser:      escpos.NewParser(page),
		host:        cfg.Capture.Host,
		port:        cfg.Capture.Port,
		idleTimeout: cfg.Capture.IdleTimeout.Std(),
		maxJobBytes: cfg.Capture.MaxJobBytes,
		noiseFilter: cfg.NoiseFilter.Enabled,
		noiseMin:    cfg.NoiseFilter.MinBytes,
		conns:       make(map[net.Conn]struct{}),
	}
}

// OnJob registers a callback for every captured job. Register before
// Start.
func (s *Server) OnJob(fn JobFunc) {
	s.onJob = append(s.onJob, fn)
}

func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrServerRunning
	}

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBindFailed, err)
	}

	s.listener = ln
	s.stopCh = make(chan struct{})
	s.running = true

	s.wg.Add(1)
	go s.acceptLoop(ln, s.stopCh)

	log.Printf("[capture] listening on %s", ln.Addr())
	return nil
}

// Stop closes the listener and every open connection, then waits for
// the connection handlers to finish. Partially received buffers on
// forcibly closed connections are discarded, never stored as jobs.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.listener.Close()
	for conn := range s.conns {
		conn.Close()
	}
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	log.Printf("[capture] stopped")
}

func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Addr returns the bound listen address while running, otherwise "".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// SetListenAddr changes the capture address for the next Start.
func (s *Server) SetListenAddr(host string, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.host = host
	s.port = port
}

// ListenAddr returns the configured capture address, which may differ
// from Addr while a listener started under an older setting is running.
func (s *Server) ListenAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("%s:%d", s.host, s.port)
}

// SetNoiseFilter adjusts the noise filter at runtime.
func (s *Server) SetNoiseFilter(enabled bool, minBytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noiseFilter = enabled
	s.noiseMin = minBytes
}

func (s *Server) NoiseFilter() (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.noiseFilter, s.noiseMin
}

// SetIdleTimeout adjusts the per-connection idle timeout for new
// connections.
func (s *Server) SetIdleTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idleTimeout = d
}

func (s *Server) IdleTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idleTimeout
}

// ConnCount returns the number of currently open capture connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Totals returns the number of jobs and bytes stored since the process
// started, including jobs the history has since evicted.
func (s *Server) Totals() (uint64, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalJobs, s.totalBytes
}

func (s *Server) acceptLoop(ln net.Listener, stopCh chan struct{}) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stopCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("[capture] accept error: %v", err)
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// handleConn drains one connection into a buffer. The peer closing the
// connection is the job boundary; an idle timeout or a forced close
// from Stop drops the buffer instead, a half-assembled stream is never
// stored.
func (s *Server) handleConn(conn net.Conn) {
	observability.ConnectionOpened()
	defer observability.ConnectionClosed()

	peer := conn.RemoteAddr().String()
	label := fmt.Sprintf("%s -> %s", peer, conn.LocalAddr().String())

	s.mu.Lock()
	idle := s.idleTimeout
	maxBytes := s.maxJobBytes
	s.mu.Unlock()

	var data []byte
	var dropReason string
	buf := make([]byte, readBufferSize)

	for {
		if idle > 0 {
			conn.SetReadDeadline(time.Now().Add(idle))
		}

		n, err := conn.Read(buf)
		if n > 0 {
			if maxBytes > 0 && int64(len(data))+int64(n) > maxBytes {
				n = int(maxBytes - int64(len(data)))
				data = append(data, buf[:n]...)
				log.Printf("[capture] %s hit the %d byte job cap, closing", peer, maxBytes)
				break
			}
			data = append(data, buf[:n]...)
		}
		if err != nil {
			var ne net.Error
			switch {
			case errors.As(err, &ne) && ne.Timeout():
				dropReason = "idle timeout"
			case errors.Is(err, net.ErrClosed):
				dropReason = "capture stopped"
			}
			break
		}
	}

	conn.Close()
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()

	if dropReason != "" {
		if len(data) > 0 {
			log.Printf("[capture] dropping %d bytes from %s: %s", len(data), peer, dropReason)
		}
		return
	}

	s.finalize(SourceNetwork, label, peer, data)
}

// Ingest stores a byte stream delivered outside the capture listener,
// for file loads and direct API submissions. The noise filter does not
// apply to these.
func (s *Server) Ingest(label string, data []byte) *Job {
	return s.finalize(SourceFile, label, "", data)
}

func (s *Server) IngestFile(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return s.Ingest(path, data), nil
}

func (s *Server) finalize(source Source, label, peer string, data []byte) *Job {
	if source == SourceNetwork {
		if len(data) == 0 {
			return nil
		}

		s.mu.Lock()
		filter := s.noiseFilter
		min := s.noiseMin
		s.mu.Unlock()

		if filter && len(data) < min {
			log.Printf("[capture] discarded %d noise bytes from %s", len(data), peer)
			observability.RecordNoiseDiscarded()
			return nil
		}
	}

	job := &Job{
		Label:      label,
		Source:     source,
		PeerAddr:   peer,
		ReceivedAt: time.Now(),
		Raw:        data,
		Doc:        s.parser.Parse(data),
	}
	s.history.Add(job)

	s.mu.Lock()
	s.totalJobs++
	s.totalBytes += int64(len(data))
	s.mu.Unlock()

	observability.RecordJobCaptured(string(source), string(job.Doc.Status), len(data))
	log.Printf("[capture] job %d: %d bytes from %s (%s)", job.Seq, len(data), label, job.Doc.Status)

	for _, fn := range s.onJob {
		fn(job)
	}

	return job
}
