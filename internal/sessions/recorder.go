package sessions

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// recorderBacklog is how many frames may wait on the writer before new
// frames start being dropped.
const recorderBacklog = 256

// Recorder streams one bridge session's frames into the store without
// blocking the frame loop that produces them. Record and Close follow the
// bridge's single-threaded contract and must come from the same goroutine.
type Recorder struct {
	logger  *logrus.Logger
	db      *gorm.DB
	session *Session
	queue   chan *Frame
	done    chan struct{}
	dropped int
}

// NewRecorder opens a session row in the store and starts the writer that
// drains recorded frames into it.
func NewRecorder(logger *logrus.Logger, db *gorm.DB, name, transport string) (*Recorder, error) {
	session := &Session{
		Name:      name,
		Transport: transport,
		StartedAt: time.Now(),
	}
	if err := CreateSession(db, session); err != nil {
		return nil, fmt.Errorf("error creating session %s: %w", name, err)
	}

	r := &Recorder{
		logger:  logger,
		db:      db,
		session: session,
		queue:   make(chan *Frame, recorderBacklog),
		done:    make(chan struct{}),
	}
	go r.write()
	return r, nil
}

// Session returns the store row this recorder writes under.
func (r *Recorder) Session() *Session {
	return r.session
}

// Record queues one frame for persistence. It never blocks: when the
// writer cannot keep up the frame is dropped and counted, since stalling
// the frame loop would distort the session being recorded.
func (r *Recorder) Record(direction string, command byte, payload []byte) {
	frame := &Frame{
		SessionID: r.session.ID,
		Direction: direction,
		Command:   command,
		Size:      len(payload),
		Payload:   append([]byte(nil), payload...),
		Timestamp: time.Now(),
	}

	select {
	case r.queue <- frame:
	default:
		r.dropped++
	}
}

func (r *Recorder) write() {
	defer close(r.done)
	for frame := range r.queue {
		if err := CreateFrame(r.db, frame); err != nil {
			r.logger.Errorf("error recording %s frame: %v", frame.Direction, err)
		}
	}
}

// Close flushes queued frames and stops the writer.
func (r *Recorder) Close() {
	close(r.queue)
	<-r.done

	if r.dropped > 0 {
		r.logger.Warnf("session recorder dropped %d frames", r.dropped)
	}
}
