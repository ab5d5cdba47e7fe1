package journal

import (
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"sessiond/internal/bus"
	"sessiond/pkg/types"
)

// Record is the on-disk form of one bus event, msgpack-encoded and appended
// to the journal file. Payloads decode as generic maps on replay; the journal
// is a diagnostics tap, not a typed store.
type Record struct {
	ID      string    `msgpack:"id"`
	Topic   string    `msgpack:"topic"`
	Source  string    `msgpack:"source"`
	At      time.Time `msgpack:"at"`
	Payload any       `msgpack:"payload,omitempty"`
}

// Journal taps every bus topic and appends events to a file for offline
// inspection. Best-effort: encode failures are logged and skipped.
type Journal struct {
	mu  sync.Mutex
	f   *os.File
	enc *msgpack.Encoder

	b    *bus.Bus
	subs []*bus.Subscription
	wg   sync.WaitGroup
	log  zerolog.Logger
}

// Open creates or appends to the journal at path and subscribes to all topics.
func Open(path string, b *bus.Bus, logger zerolog.Logger) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	j := &Journal{f: f, enc: msgpack.NewEncoder(f), b: b, log: logger}
	for _, topic := range types.Topics() {
		sub, err := b.Subscribe(topic, 256)
		if err != nil {
			j.Close()
			return nil, err
		}
		j.subs = append(j.subs, sub)
		j.wg.Add(1)
		go j.consume(sub)
	}
	return j, nil
}

func (j *Journal) consume(sub *bus.Subscription) {
	defer j.wg.Done()
	for ev := range sub.Events() {
		j.append(ev)
	}
}

func (j *Journal) append(ev types.Event) {
	rec := Record{
		ID:      ev.ID,
		Topic:   string(ev.Topic),
		Source:  ev.Source,
		At:      ev.Timestamp,
		Payload: ev.Payload,
	}
	j.mu.Lock()
	err := j.enc.Encode(rec)
	j.mu.Unlock()
	if err != nil {
		j.log.Warn().Err(err).Str("topic", rec.Topic).Msg("journal append failed")
	}
}

// Close unsubscribes from the bus, waits for queued events to be written, and
// closes the file.
func (j *Journal) Close() error {
	for _, sub := range j.subs {
		_ = j.b.Unsubscribe(sub)
	}
	j.subs = nil
	j.wg.Wait()
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

// ReadAll decodes every record in a journal file, for replay and tests.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec := msgpack.NewDecoder(f)
	var out []Record
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
		out = append(out, rec)
	}
}
