package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orrn/printsink/internal/capture"
	"github.com/orrn/printsink/internal/config"
	"github.com/orrn/printsink/internal/observability"
)

type Event string

const (
	EventJobCaptured    Event = "job.captured"
	EventCaptureStarted Event = "capture.started"
	EventCaptureStopped Event = "capture.stopped"
)

type Payload struct {
	DeliveryID string      `json:"delivery_id"`
	Event      string      `json:"event"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       interface{} `json:"data"`
}

type JobData struct {
	Seq        uint64    `json:"seq"`
	Label      string    `json:"label"`
	Source     string    `json:"source"`
	PeerAddr   string    `json:"peer_addr,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	SizeBytes  int       `json:"size_bytes"`
	Status     string    `json:"status"`
	Elements   int       `json:"elements"`
}

type CaptureStateData struct {
	Addr string `json:"addr,omitempty"`
}

type Options struct {
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

type target struct {
	url    string
	secret string
	events map[Event]bool
}

func (t *target) wants(event Event) bool {
	return len(t.events) == 0 || t.events[event]
}

type deliveryTask struct {
	target  *target
	event   Event
	body    []byte
	attempt int
}

// Sender posts capture events to the configured webhook targets from a
// small worker pool. Enqueueing never blocks the capture path.
type Sender struct {
	targets    []*target
	httpClient *http.Client
	retryCount int
	retryDelay time.Duration
	workers    int
	queue      chan *deliveryTask
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

func NewSender(targets []config.WebhookConfig, opts Options) *Sender {
	if opts.RetryCount <= 0 {
		opts.RetryCount = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 3
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}

	s := &Sender{
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		retryCount: opts.RetryCount,
		retryDelay: opts.RetryDelay,
		workers:    opts.WorkerCount,
		queue:      make(chan *deliveryTask, opts.QueueSize),
		stopCh:     make(chan struct{}),
	}

	for _, t := range targets {
		tgt := &target{url: t.URL, secret: t.Secret}
		if len(t.Events) > 0 {
			tgt.events = make(map[Event]bool, len(t.Events))
			for _, e := range t.Events {
				tgt.events[Event(e)] = true
			}
		}
		s.targets = append(s.targets, tgt)
	}

	return s
}

func (s *Sender) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

const drainTimeout = 5 * time.Second

// Stop lets the workers flush already-queued deliveries, waiting at
// most drainTimeout before giving up on them.
func (s *Sender) Stop() {
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		log.Printf("[webhook] shutdown timed out with %d deliveries queued", len(s.queue))
	}
}

func (s *Sender) SendJobCaptured(job *capture.Job) {
	s.enqueue(EventJobCaptured, &JobData{
		Seq:        job.Seq,
		Label:      job.Label,
		Source:     string(job.Source),
		PeerAddr:   job.PeerAddr,
		ReceivedAt: job.ReceivedAt,
		SizeBytes:  job.Size(),
		Status:     string(job.Doc.Status),
		Elements:   len(job.Doc.Elements),
	})
}

func (s *Sender) SendCaptureStarted(addr string) {
	s.enqueue(EventCaptureStarted, &CaptureStateData{Addr: addr})
}

func (s *Sender) SendCaptureStopped() {
	s.enqueue(EventCaptureStopped, &CaptureStateData{})
}

func (s *Sender) enqueue(event Event, data interface{}) {
	for _, tgt := range s.targets {
		if !tgt.wants(event) {
			continue
		}

		body, err := json.Marshal(&Payload{
			DeliveryID: uuid.New().String(),
			Event:      string(event),
			Timestamp:  time.Now().UTC(),
			Data:       data,
		})
		if err != nil {
			log.Printf("[webhook] failed to marshal payload for event %s: %v", event, err)
			continue
		}

		task := &deliveryTask{target: tgt, event: event, body: body}

		select {
		case s.queue <- task:
		default:
			log.Printf("[webhook] queue full, dropping event %s for %s", event, tgt.url)
		}
	}
}

func (s *Sender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			for {
				select {
				case task := <-s.queue:
					s.deliver(id, task)
				default:
					return
				}
			}
		case task := <-s.queue:
			s.deliver(id, task)
		}
	}
}

func (s *Sender) deliver(id int, task *deliveryTask) {
	err := s.sendWithRetry(task)
	observability.RecordWebhookDelivery(string(task.event), err == nil)
	if err != nil {
		log.Printf("[webhook worker %d] failed to deliver event %s to %s after %d attempts: %v",
			id, task.event, task.target.url, task.attempt, err)
	}
}

func (s *Sender) sendWithRetry(task *deliveryTask) error {
	var lastErr error
	for task.attempt < s.retryCount {
		task.attempt++

		err := s.sendRequest(task)
		if err == nil {
			return nil
		}

		lastErr = err

		if isClientError(err) {
			log.Printf("[webhook] client error for %s, not retrying: %v", task.target.url, err)
			return err
		}

		if task.attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(task.attempt-1))
			log.Printf("[webhook] retry %d/%d for %s in %v: %v",
				task.attempt, s.retryCount, task.target.url, backoff, err)

			select {
			case <-s.stopCh:
				return fmt.Errorf("shutdown requested")
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *Sender) sendRequest(task *deliveryTask) error {
	req, err := http.NewRequest("POST", task.target.url, bytes.NewReader(task.body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Printsink-Event", string(task.event))
	if task.target.secret != "" {
		req.Header.Set("X-Printsink-Signature", signBody(task.body, task.target.secret))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &statusError{code: resp.StatusCode}
	}

	return nil
}

// statusError carries the HTTP status of a failed delivery so the
// retry loop can tell client errors from server errors.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http error: %d", e.code)
}

func signBody(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

func isClientError(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code >= 400 && se.code < 500
}
