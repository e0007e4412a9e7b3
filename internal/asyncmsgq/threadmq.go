package asyncmsgq

import "fmt"

// ThreadMQ is the queue pair a device thread shares with the main
// thread: Inq carries control messages into the device thread (drained
// by its rtpoll item), Outq carries requests back to the main thread's
// maintenance loop.
type ThreadMQ struct {
	Inq  *Queue
	Outq *Queue
}

// NewThreadMQ creates both queues.
func NewThreadMQ() (*ThreadMQ, error) {
	inq, err := New()
	if err != nil {
		return nil, fmt.Errorf("creating inbound queue: %w", err)
	}
	outq, err := New()
	if err != nil {
		inq.Close()
		return nil, fmt.Errorf("creating outbound queue: %w", err)
	}
	return &ThreadMQ{Inq: inq, Outq: outq}, nil
}

// Close releases both queues' descriptors.
func (t *ThreadMQ) Close() error {
	err := t.Inq.Close()
	if err2 := t.Outq.Close(); err == nil {
		err = err2
	}
	return err
}
