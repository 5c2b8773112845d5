// Package call owns the lifecycle of active voice calls: it routes inbound
// audio to the transcription gateway, fans transcripts and audio out to
// listeners, and pushes synthesized speech into the transport's sink.
package call

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/steven-haddix/nomnom/internal/audio"
	callmodel "github.com/steven-haddix/nomnom/internal/model/call"
	"github.com/steven-haddix/nomnom/internal/store"
)

var (
	// ErrSessionNotFound is returned for operations referencing a call id
	// with no live session. Transport adapters treat it as non-fatal:
	// provider close events race with application-level call end.
	ErrSessionNotFound = errors.New("call session not found")
	// ErrSessionExists is returned when a call is initialized twice.
	ErrSessionExists = errors.New("call session already exists")
)

// Sink receives outbound audio for a call. The stream is lazy, finite and
// not restartable; the sink decides how to frame it onto the wire.
type Sink func(stream *audio.Stream)

// Handle identifies one listener registration for later removal. Registering
// the same function twice yields two handles and two invocations per event.
type Handle int64

// RecordStore persists call routing metadata with a TTL.
type RecordStore interface {
	SaveCall(ctx context.Context, rec callmodel.Record) error
	FetchCall(ctx context.Context, callID string) (callmodel.Record, error)
	ExpireCall(ctx context.Context, callID string, ttl time.Duration) error
}

// Transcriber is the streaming speech-to-text gateway, one connection per
// call.
type Transcriber interface {
	CreateSession(ctx context.Context, sessionID string, onTranscript func(transcript string)) error
	SendAudio(sessionID string, audio []byte) error
	DeleteSession(sessionID string) error
}

// Synthesizer converts text into audio streams.
type Synthesizer interface {
	SynthesizeSpeech(ctx context.Context, text string) *audio.Stream
	SynthesizeSpeechStream(ctx context.Context, texts <-chan string) *audio.Stream
}

type transcriptListener struct {
	handle Handle
	fn     func(transcript string)
}

type audioListener struct {
	handle Handle
	fn     func(audio []byte)
}

type lifecycleListener struct {
	handle Handle
	fn     func(callID string)
}

// session is the in-memory state of one active call. The manager's mutex
// guards every mutable field.
type session struct {
	id       string
	to       string
	from     string
	provider callmodel.Provider

	started    bool
	onSpeaking Sink

	transcriptListeners []transcriptListener
	audioListeners      []audioListener

	responding bool

	// ctx is cancelled when the call ends so in-flight synthesis tied to
	// the sink stops producing.
	ctx    context.Context
	cancel context.CancelFunc
}

// Manager is the call session manager.
type Manager struct {
	records     RecordStore
	transcriber Transcriber
	synth       Synthesizer

	mu         sync.Mutex
	sessions   map[string]*session
	nextHandle Handle
	onStarted  []lifecycleListener
	onEnded    []lifecycleListener
}

// NewManager wires the manager to its gateways.
func NewManager(records RecordStore, transcriber Transcriber, synth Synthesizer) *Manager {
	return &Manager{
		records:     records,
		transcriber: transcriber,
		synth:       synth,
		sessions:    make(map[string]*session),
	}
}

// InitCall persists the routing record with its fixed TTL and creates the
// in-memory session, ready to start when the media stream connects. A second
// init for a live call id is rejected.
func (m *Manager) InitCall(ctx context.Context, callID, to, from string, provider callmodel.Provider) error {
	if !provider.Valid() {
		return fmt.Errorf("init call %s: unknown provider %q", callID, provider)
	}

	rec := callmodel.Record{CallID: callID, To: to, From: from, Provider: provider}
	if err := m.records.SaveCall(ctx, rec); err != nil {
		return err
	}
	if err := m.records.ExpireCall(ctx, callID, store.CallRecordTTL); err != nil {
		return err
	}

	sessCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[callID]; exists {
		cancel()
		return fmt.Errorf("init call %s: %w", callID, ErrSessionExists)
	}
	m.sessions[callID] = &session{
		id:       callID,
		to:       to,
		from:     from,
		provider: provider,
		ctx:      sessCtx,
		cancel:   cancel,
	}

	log.Printf("[call] session initialized id=%s provider=%s", callID, provider)
	return nil
}

// FetchCall reads the durable routing record.
func (m *Manager) FetchCall(ctx context.Context, callID string) (callmodel.Record, error) {
	rec, err := m.records.FetchCall(ctx, callID)
	if errors.Is(err, store.ErrNotFound) {
		return callmodel.Record{}, fmt.Errorf("call %s: %w", callID, ErrSessionNotFound)
	}
	return rec, err
}

// StartCall registers the speaking sink, opens the transcription connection
// and notifies call-started listeners. The sink replaces any previous one;
// there is at most one per session.
func (m *Manager) StartCall(ctx context.Context, callID string, onSpeaking Sink) error {
	m.mu.Lock()
	sess, ok := m.sessions[callID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("start call %s: %w", callID, ErrSessionNotFound)
	}
	sess.onSpeaking = onSpeaking
	sess.started = true
	m.mu.Unlock()

	if err := m.transcriber.CreateSession(ctx, callID, func(transcript string) {
		m.dispatchTranscript(callID, transcript)
	}); err != nil {
		return fmt.Errorf("start call %s: %w", callID, err)
	}

	log.Printf("[call] session started id=%s", callID)
	m.notify(m.snapshotStarted(), callID)
	return nil
}

// EndCall tears the session down: the transcription connection is closed,
// in-flight synthesis for the sink is cancelled, and the session leaves the
// table. The durable record stays until its TTL expires.
func (m *Manager) EndCall(callID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[callID]
	started := false
	if ok {
		started = sess.started
		delete(m.sessions, callID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("end call %s: %w", callID, ErrSessionNotFound)
	}

	sess.cancel()
	if started {
		if err := m.transcriber.DeleteSession(callID); err != nil {
			log.Printf("[call] closing transcription for %s: %v", callID, err)
		}
	}

	log.Printf("[call] session ended id=%s", callID)
	m.notify(m.snapshotEnded(), callID)
	return nil
}

// HandleCallAudio forwards inbound audio to the transcription gateway and
// fans it out to audio listeners.
func (m *Manager) HandleCallAudio(callID string, chunk []byte) error {
	m.mu.Lock()
	sess, ok := m.sessions[callID]
	var listeners []audioListener
	started := false
	if ok {
		started = sess.started
		listeners = append(listeners, sess.audioListeners...)
	}
	m.mu.Unlock()
	if !ok || !started {
		return fmt.Errorf("audio for call %s: %w", callID, ErrSessionNotFound)
	}

	if err := m.transcriber.SendAudio(callID, chunk); err != nil {
		return fmt.Errorf("audio for call %s: %w", callID, err)
	}
	for _, l := range listeners {
		l.fn(chunk)
	}
	return nil
}

// SpeakToCall synthesizes text and hands the audio to the session's sink.
// The handoff is synchronous; audio delivery is not awaited. With no sink
// registered the audio is discarded and the call is unaffected.
func (m *Manager) SpeakToCall(callID, text string) error {
	m.mu.Lock()
	sess, ok := m.sessions[callID]
	var sink Sink
	var sessCtx context.Context
	if ok {
		sink = sess.onSpeaking
		sessCtx = sess.ctx
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("speak to call %s: %w", callID, ErrSessionNotFound)
	}

	stream := m.synth.SynthesizeSpeech(sessCtx, text)
	m.deliver(callID, sink, stream)
	return nil
}

// SpeakToCallStream is SpeakToCall for a lazy sequence of text chunks,
// producing one continuous audio stream in input order.
func (m *Manager) SpeakToCallStream(callID string, texts <-chan string) error {
	m.mu.Lock()
	sess, ok := m.sessions[callID]
	var sink Sink
	var sessCtx context.Context
	if ok {
		sink = sess.onSpeaking
		sessCtx = sess.ctx
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("speak to call %s: %w", callID, ErrSessionNotFound)
	}

	stream := m.synth.SynthesizeSpeechStream(sessCtx, texts)
	m.deliver(callID, sink, stream)
	return nil
}

// deliver hands the stream to the sink on its own goroutine. Speaking returns
// at handoff, so the single-flight slot frees while playback drains and the
// caller can be heard over the bot's answer.
func (m *Manager) deliver(callID string, sink Sink, stream *audio.Stream) {
	if sink == nil {
		log.Printf("[call] no speaking sink for %s, discarding audio", callID)
		go stream.Drain()
		return
	}
	go sink(stream)
}

// SubscribeToTranscripts registers a listener for every transcript on the
// call. Listeners fire in registration order.
func (m *Manager) SubscribeToTranscripts(callID string, fn func(transcript string)) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[callID]
	if !ok {
		return 0, fmt.Errorf("subscribe to call %s: %w", callID, ErrSessionNotFound)
	}
	m.nextHandle++
	h := m.nextHandle
	sess.transcriptListeners = append(sess.transcriptListeners, transcriptListener{handle: h, fn: fn})
	return h, nil
}

// UnsubscribeFromTranscripts removes one registration. Unknown handles are a
// silent no-op.
func (m *Manager) UnsubscribeFromTranscripts(callID string, h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[callID]
	if !ok {
		return
	}
	for i, l := range sess.transcriptListeners {
		if l.handle == h {
			sess.transcriptListeners = append(sess.transcriptListeners[:i], sess.transcriptListeners[i+1:]...)
			return
		}
	}
}

// SubscribeToAudio registers a listener for every inbound audio chunk.
func (m *Manager) SubscribeToAudio(callID string, fn func(audio []byte)) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[callID]
	if !ok {
		return 0, fmt.Errorf("subscribe to call %s: %w", callID, ErrSessionNotFound)
	}
	m.nextHandle++
	h := m.nextHandle
	sess.audioListeners = append(sess.audioListeners, audioListener{handle: h, fn: fn})
	return h, nil
}

// UnsubscribeFromAudio removes one registration; unknown handles are ignored.
func (m *Manager) UnsubscribeFromAudio(callID string, h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[callID]
	if !ok {
		return
	}
	for i, l := range sess.audioListeners {
		if l.handle == h {
			sess.audioListeners = append(sess.audioListeners[:i], sess.audioListeners[i+1:]...)
			return
		}
	}
}

// OnCallStarted registers a process-wide listener invoked whenever any call
// starts. Upstream agents use it to open the conversation.
func (m *Manager) OnCallStarted(fn func(callID string)) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextHandle++
	h := m.nextHandle
	m.onStarted = append(m.onStarted, lifecycleListener{handle: h, fn: fn})
	return h
}

// RemoveCallStartedListener drops one call-started registration.
func (m *Manager) RemoveCallStartedListener(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.onStarted {
		if l.handle == h {
			m.onStarted = append(m.onStarted[:i], m.onStarted[i+1:]...)
			return
		}
	}
}

// OnCallEnded registers a process-wide listener invoked whenever any call
// ends. Upstream agents use it to finalize history.
func (m *Manager) OnCallEnded(fn func(callID string)) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextHandle++
	h := m.nextHandle
	m.onEnded = append(m.onEnded, lifecycleListener{handle: h, fn: fn})
	return h
}

// RemoveCallEndedListener drops one call-ended registration.
func (m *Manager) RemoveCallEndedListener(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.onEnded {
		if l.handle == h {
			m.onEnded = append(m.onEnded[:i], m.onEnded[i+1:]...)
			return
		}
	}
}

// BeginResponding claims the session's single-flight response slot. It
// returns false while a response is already in flight; the caller drops the
// triggering event rather than queueing it.
func (m *Manager) BeginResponding(callID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[callID]
	if !ok {
		return false, fmt.Errorf("respond to call %s: %w", callID, ErrSessionNotFound)
	}
	if sess.responding {
		return false, nil
	}
	sess.responding = true
	return true, nil
}

// EndResponding releases the single-flight slot. It must run on every path
// out of a response, including failures, or the session can never speak
// again.
func (m *Manager) EndResponding(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[callID]; ok {
		sess.responding = false
	}
}

// dispatchTranscript fans a transcript out to the session's listeners in
// registration order. Events for one session arrive from a single gateway
// goroutine, so per-session ordering is the arrival order.
func (m *Manager) dispatchTranscript(callID, transcript string) {
	m.mu.Lock()
	sess, ok := m.sessions[callID]
	var listeners []transcriptListener
	if ok {
		listeners = append(listeners, sess.transcriptListeners...)
	}
	m.mu.Unlock()
	if !ok {
		log.Printf("[call] transcript for unknown session %s dropped", callID)
		return
	}

	for _, l := range listeners {
		l.fn(transcript)
	}
}

func (m *Manager) snapshotStarted() []lifecycleListener {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]lifecycleListener(nil), m.onStarted...)
}

func (m *Manager) snapshotEnded() []lifecycleListener {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]lifecycleListener(nil), m.onEnded...)
}

func (m *Manager) notify(listeners []lifecycleListener, callID string) {
	for _, l := range listeners {
		l.fn(callID)
	}
}
