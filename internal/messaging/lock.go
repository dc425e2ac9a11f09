package messaging

import "sync"

const lockStripes = 256

// stripedLock serializes writes per channel without a mutex per channel.
// Two channels may share a stripe, which only costs some parallelism.
type stripedLock struct {
	stripes [lockStripes]sync.Mutex
}

func (l *stripedLock) lock(channelID int64) func() {
	m := &l.stripes[uint64(channelID)%lockStripes]
	m.Lock()
	return m.Unlock
}
