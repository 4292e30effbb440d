package gateway

import (
	"MentorLink/logger"
)

type fanoutJob struct {
	sessions []*Session
	payload  []byte
}

// Fanout spreads room broadcasts over a fixed worker pool so a large
// room never blocks the event that triggered the broadcast.
type Fanout struct {
	jobs chan fanoutJob
}

func NewFanout(workers, queue int) *Fanout {
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 1024
	}
	f := &Fanout{jobs: make(chan fanoutJob, queue)}
	for i := 0; i < workers; i++ {
		go func() {
			for job := range f.jobs {
				for _, s := range job.sessions {
					if !s.TrySend(job.payload) {
						logger.Debugf("[fanout] slow client, dropped frame session=%s user=%s", s.ID, s.UserID)
					}
				}
			}
		}()
	}
	return f
}

func (f *Fanout) Broadcast(sessions []*Session, payload []byte) {
	if len(sessions) == 0 || len(payload) == 0 {
		return
	}
	f.jobs <- fanoutJob{sessions: sessions, payload: payload}
}

func (f *Fanout) Close() { close(f.jobs) }
