package asyncmsgq

import (
	"testing"
	"time"

	"github.com/mixerd/mixerd/internal/memblock"
)

// recordingObject records the codes it is asked to process and replies
// with code*2.
type recordingObject struct {
	codes []int
}

func (o *recordingObject) ProcessMsg(code int, data any, offset int64, chunk memblock.Chunk) int {
	o.codes = append(o.codes, code)
	return code * 2
}

func TestPostGetDoneFIFO(t *testing.T) {
	q, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Close()

	obj := &recordingObject{}
	for i := 0; i < 10; i++ {
		q.Post(obj, i, nil, int64(i), memblock.Chunk{})
	}

	for i := 0; i < 10; i++ {
		m, ok := q.Get()
		if !ok {
			t.Fatalf("Get %d: queue empty", i)
		}
		if m.Code != i {
			t.Errorf("message %d has code %d, want %d (FIFO violated)", i, m.Code, i)
		}
		if m.Offset != int64(i) {
			t.Errorf("message %d has offset %d, want %d", i, m.Offset, i)
		}
		q.Done(0)
	}

	if _, ok := q.Get(); ok {
		t.Error("Get on drained queue returned a message")
	}
}

func TestSendBlocksUntilDone(t *testing.T) {
	q, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Close()

	obj := &recordingObject{}

	got := make(chan int, 1)
	go func() {
		got <- q.Send(obj, 21, nil, 0, memblock.Chunk{})
	}()

	// Receiver side.
	m := q.Recv()
	if m.Code != 21 {
		t.Errorf("received code %d, want 21", m.Code)
	}
	q.Done(Dispatch(m))

	select {
	case reply := <-got:
		if reply != 42 {
			t.Errorf("Send returned %d, want 42", reply)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return after Done")
	}
}

func TestReadBeforePollReportsPending(t *testing.T) {
	q, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Close()

	if err := q.ReadBeforePoll(); err != nil {
		t.Errorf("ReadBeforePoll on empty queue = %v, want nil", err)
	}

	q.Post(nil, 5, nil, 0, memblock.Chunk{})
	if err := q.ReadBeforePoll(); err == nil {
		t.Error("ReadBeforePoll with pending message = nil, want error")
	}

	m, ok := q.Get()
	if !ok || m.Code != 5 {
		t.Fatal("pending message not retrievable")
	}
	q.Done(0)
}

func TestWaitForShutdown(t *testing.T) {
	q, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Close()

	obj := &recordingObject{}
	q.Post(obj, 7, nil, 0, memblock.Chunk{})
	q.Post(nil, CodeShutdown, nil, 0, memblock.Chunk{})

	done := make(chan struct{})
	go func() {
		q.WaitFor(CodeShutdown)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitFor did not return after shutdown message")
	}

	// The non-shutdown message must have been dispatched on the way.
	if len(obj.codes) != 1 || obj.codes[0] != 7 {
		t.Errorf("dispatched codes = %v, want [7]", obj.codes)
	}
}

func TestRecvBlocksUntilPost(t *testing.T) {
	q, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Close()

	got := make(chan int, 1)
	go func() {
		m := q.Recv()
		code := m.Code
		q.Done(0)
		got <- code
	}()

	// Give the receiver time to block in poll before posting.
	time.Sleep(50 * time.Millisecond)
	q.Post(nil, 99, nil, 0, memblock.Chunk{})

	select {
	case code := <-got:
		if code != 99 {
			t.Errorf("Recv returned code %d, want 99", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not wake after Post")
	}
}

func TestGetBeforeDonePanics(t *testing.T) {
	q, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Close()

	q.Post(nil, 1, nil, 0, memblock.Chunk{})
	q.Post(nil, 2, nil, 0, memblock.Chunk{})

	if _, ok := q.Get(); !ok {
		t.Fatal("first Get failed")
	}

	defer func() {
		if recover() == nil {
			t.Error("second Get without Done did not panic")
		}
	}()
	q.Get()
}
