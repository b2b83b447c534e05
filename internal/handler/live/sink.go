package live

import (
	"sync"

	"github.com/zhouzirui/pairchat/backend/internal/live"
)

// queueSink 是带缓冲的 live.Sink，队列满时拒绝投递，由 hub 断开连接。
type queueSink struct {
	queue chan live.Envelope
	done  chan struct{}
	once  sync.Once
}

func newQueueSink(size int) *queueSink {
	return &queueSink{
		queue: make(chan live.Envelope, size),
		done:  make(chan struct{}),
	}
}

func (s *queueSink) Deliver(env live.Envelope) error {
	select {
	case <-s.done:
		return live.ErrSinkFull
	default:
	}

	select {
	case s.queue <- env:
		return nil
	default:
		return live.ErrSinkFull
	}
}

func (s *queueSink) Close() {
	s.once.Do(func() { close(s.done) })
}
