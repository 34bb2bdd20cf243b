package capture

import (
	"time"

	"github.com/orrn/printsink/internal/escpos"
)

type Source string

const (
	SourceNetwork Source = "network"
	SourceFile    Source = "file"
)

// Job is one captured print stream together with its decoded document.
// A job covers exactly one connection lifetime: everything a client
// sent between connect and close. Jobs are immutable once stored.
type Job struct {
	Seq        uint64
	Label      string
	Source     Source
	PeerAddr   string
	ReceivedAt time.Time
	Raw        []byte
	Doc        *escpos.Document
}

func (j *Job) Size() int {
	return len(j.Raw)
}
