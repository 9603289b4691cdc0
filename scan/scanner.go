// Package scan implements the periodic tag scan loop: a timer-driven
// ScanList per poll period, reading tags in batches via a client.Session
// and fanning changed values out to publishers. It is pure composition
// over the session's programmatic surface — it never touches the wire
// protocol directly.
package scan

import (
	"bytes"
	"sync"
	"time"

	"github.com/renej-github/etherip/cip"
	"github.com/renej-github/etherip/client"
	"github.com/renej-github/etherip/logging"
)

// minPeriod matches the original scanner's clamp: periods at or below
// 100ms collapse to a single 100ms bucket rather than hammering the PLC.
const minPeriod = 100 * time.Millisecond

func clampPeriod(d time.Duration) time.Duration {
	if d <= minPeriod {
		return minPeriod
	}
	return d
}

// Publisher fans a changed tag value out to some external system (MQTT,
// Valkey, Kafka, ...). Implementations must not block the scan tick for
// long; slow publishers should queue internally.
type Publisher interface {
	Publish(plcName, tagName string, value *cip.Value)
}

// reader is the subset of *client.Session the scan loop needs. Depending
// on the interface rather than the concrete type keeps ScanList testable
// without a live PLC connection.
type reader interface {
	ReadMany(tags []string) ([]client.TagResult, error)
}

// Scanner owns one Session for a single PLC target and drives one
// goroutine per distinct scan period, matching the "single session, one
// goroutine per target" concurrency rule: nothing else may call Session
// methods concurrently with the scan loop.
type Scanner struct {
	plcName string
	session reader

	mu         sync.Mutex
	lists      map[time.Duration]*ScanList
	publishers []Publisher
}

// New creates a Scanner for one already-connected session.
func New(plcName string, session *client.Session) *Scanner {
	return &Scanner{
		plcName: plcName,
		session: session,
		lists:   make(map[time.Duration]*ScanList),
	}
}

// AddPublisher registers a publisher to receive every changed value
// scanned by this target, across every period bucket.
func (s *Scanner) AddPublisher(p Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishers = append(s.publishers, p)
}

// Add registers a tag to be polled at the given period, clamped to the
// minimum. Tags sharing a (clamped) period are batched into the same
// ScanList and therefore the same read_many call.
func (s *Scanner) Add(period time.Duration, tagName string) {
	period = clampPeriod(period)

	s.mu.Lock()
	defer s.mu.Unlock()

	list, ok := s.lists[period]
	if !ok {
		list = newScanList(s.plcName, period, s.session, func(tag string, v *cip.Value) {
			s.mu.Lock()
			pubs := append([]Publisher(nil), s.publishers...)
			s.mu.Unlock()
			for _, p := range pubs {
				p.Publish(s.plcName, tag, v)
			}
		})
		s.lists[period] = list
	}
	list.add(tagName)
}

// Start begins ticking every registered ScanList.
func (s *Scanner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, list := range s.lists {
		list.start()
	}
}

// Snapshot returns the most recently read value for every tag registered
// with this scanner, across all period buckets.
func (s *Scanner) Snapshot() map[string]*cip.Value {
	s.mu.Lock()
	lists := make([]*ScanList, 0, len(s.lists))
	for _, l := range s.lists {
		lists = append(lists, l)
	}
	s.mu.Unlock()

	out := make(map[string]*cip.Value)
	for _, l := range lists {
		for tag, v := range l.Snapshot() {
			out[tag] = v
		}
	}
	return out
}

// Stop cancels every ScanList's ticker and waits for its goroutine to exit.
func (s *Scanner) Stop() {
	s.mu.Lock()
	lists := make([]*ScanList, 0, len(s.lists))
	for _, list := range s.lists {
		lists = append(lists, list)
	}
	s.mu.Unlock()
	for _, list := range lists {
		list.stop()
	}
}

// ScanList is a set of tags read together, on one period, via a single
// read_many call.
type ScanList struct {
	plcName  string
	period   time.Duration
	session  reader
	onChange func(tag string, v *cip.Value)

	mu     sync.Mutex
	tags   []string
	last   map[string][]byte
	values map[string]*cip.Value

	ticker *time.Ticker
	stopCh chan struct{}
	done   chan struct{}
}

func newScanList(plcName string, period time.Duration, session reader, onChange func(string, *cip.Value)) *ScanList {
	return &ScanList{
		plcName:  plcName,
		period:   period,
		session:  session,
		onChange: onChange,
		last:     make(map[string][]byte),
		values:   make(map[string]*cip.Value),
	}
}

// Snapshot returns the most recently read value for every tag in this
// list, regardless of whether it changed on the last tick.
func (l *ScanList) Snapshot() map[string]*cip.Value {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]*cip.Value, len(l.values))
	for k, v := range l.values {
		out[k] = v
	}
	return out
}

func (l *ScanList) add(tagName string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.tags {
		if t == tagName {
			return
		}
	}
	l.tags = append(l.tags, tagName)
}

func (l *ScanList) start() {
	l.mu.Lock()
	if l.ticker != nil {
		l.mu.Unlock()
		return
	}
	l.ticker = time.NewTicker(l.period)
	l.stopCh = make(chan struct{})
	l.done = make(chan struct{})
	ticker := l.ticker
	stopCh := l.stopCh
	done := l.done
	l.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-stopCh:
				ticker.Stop()
				return
			case <-ticker.C:
				l.tick()
			}
		}
	}()
}

func (l *ScanList) stop() {
	l.mu.Lock()
	stopCh := l.stopCh
	done := l.done
	l.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-done
}

func (l *ScanList) tick() {
	l.mu.Lock()
	tags := append([]string(nil), l.tags...)
	l.mu.Unlock()
	if len(tags) == 0 {
		return
	}

	results, err := l.session.ReadMany(tags)
	if err != nil {
		logging.DebugLog("scan", "read_many failed for %s: %v", l.plcName, err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range results {
		if r.Err != nil {
			logging.DebugLog("scan", "%s/%s: %v", l.plcName, r.Name, r.Err)
			continue
		}
		if r.Value == nil {
			continue
		}
		raw := r.Value.Encode()
		l.values[r.Name] = r.Value
		if prev, ok := l.last[r.Name]; ok && bytes.Equal(prev, raw) {
			continue
		}
		l.last[r.Name] = raw
		l.onChange(r.Name, r.Value)
	}
}
