package archive

import (
	"log"
	"sync"
	"time"

	"github.com/orrn/printsink/internal/capture"
	"github.com/orrn/printsink/internal/observability"
)

const (
	queueSize     = 256
	pruneInterval = 24 * time.Hour
)

// Archiver copies captured jobs into the store off the capture path.
// Enqueue never blocks a connection handler; when the queue is full
// the job stays in the in-memory history but is not archived.
type Archiver struct {
	store           *Store
	retentionMonths int

	queue  chan *capture.Job
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewArchiver(store *Store, retentionMonths int) *Archiver {
	return &Archiver{
		store:           store,
		retentionMonths: retentionMonths,
		queue:           make(chan *capture.Job, queueSize),
		stopCh:          make(chan struct{}),
	}
}

func (a *Archiver) Start() {
	a.wg.Add(2)
	go a.writeLoop()
	go a.pruneLoop()
}

// Stop drains queued jobs to disk before returning.
func (a *Archiver) Stop() {
	close(a.stopCh)
	a.wg.Wait()
}

func (a *Archiver) Enqueue(job *capture.Job) {
	select {
	case a.queue <- job:
	default:
		log.Printf("[archive] queue full, dropping job %d", job.Seq)
	}
}

func (a *Archiver) writeLoop() {
	defer a.wg.Done()

	for {
		select {
		case <-a.stopCh:
			for {
				select {
				case job := <-a.queue:
					a.save(job)
				default:
					return
				}
			}
		case job := <-a.queue:
			a.save(job)
		}
	}
}

func (a *Archiver) save(job *capture.Job) {
	if err := a.store.SaveJob(job); err != nil {
		log.Printf("[archive] failed to archive job %d: %v", job.Seq, err)
		return
	}
	observability.RecordArchivedJob()
}

func (a *Archiver) pruneLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	a.prune()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.prune()
		}
	}
}

func (a *Archiver) prune() {
	removed, err := a.store.Prune(a.retentionMonths)
	if err != nil {
		log.Printf("[archive] prune failed: %v", err)
		return
	}
	for _, month := range removed {
		log.Printf("[archive] removed expired month %s", month)
	}
}
