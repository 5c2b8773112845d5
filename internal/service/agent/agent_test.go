package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/steven-haddix/nomnom/internal/model/business"
	callservice "github.com/steven-haddix/nomnom/internal/service/call"
)

type fakeCalls struct {
	mu          sync.Mutex
	responding  bool
	spoken      []string
	spokenCh    chan string
	transcripts map[callservice.Handle]func(string)
	nextHandle  callservice.Handle
	removed     []callservice.Handle
}

func newFakeCalls() *fakeCalls {
	return &fakeCalls{
		spokenCh:    make(chan string, 8),
		transcripts: make(map[callservice.Handle]func(string)),
	}
}

func (f *fakeCalls) SubscribeToTranscripts(callID string, fn func(string)) (callservice.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextHandle++
	f.transcripts[f.nextHandle] = fn
	return f.nextHandle, nil
}

func (f *fakeCalls) UnsubscribeFromTranscripts(callID string, h callservice.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.transcripts, h)
	f.removed = append(f.removed, h)
}

func (f *fakeCalls) OnCallStarted(fn func(string)) callservice.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextHandle++
	return f.nextHandle
}

func (f *fakeCalls) OnCallEnded(fn func(string)) callservice.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextHandle++
	return f.nextHandle
}

func (f *fakeCalls) RemoveCallStartedListener(h callservice.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, h)
}

func (f *fakeCalls) RemoveCallEndedListener(h callservice.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, h)
}

func (f *fakeCalls) BeginResponding(callID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.responding {
		return false, nil
	}
	f.responding = true
	return true, nil
}

func (f *fakeCalls) EndResponding(callID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responding = false
}

func (f *fakeCalls) SpeakToCall(callID, text string) error {
	f.mu.Lock()
	f.spoken = append(f.spoken, text)
	f.mu.Unlock()
	f.spokenCh <- text
	return nil
}

func (f *fakeCalls) SpeakToCallStream(callID string, texts <-chan string) error {
	var full strings.Builder
	for chunk := range texts {
		full.WriteString(chunk)
	}
	f.mu.Lock()
	f.spoken = append(f.spoken, full.String())
	f.mu.Unlock()
	f.spokenCh <- full.String()
	return nil
}

type fakeResponder struct {
	mu       sync.Mutex
	inputs   []string
	history  []string
	response string
	err      error
	block    chan struct{}
}

func (f *fakeResponder) GetResponse(ctx context.Context, sessionID, inputEvent, contextInfo string) (string, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, inputEvent)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeResponder) GetResponseStream(ctx context.Context, sessionID, inputEvent, contextInfo string) (<-chan string, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, inputEvent)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan string, 1)
	out <- f.response
	close(out)
	return out, nil
}

func (f *fakeResponder) UpdateHistory(ctx context.Context, sessionID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, message)
	return nil
}

type fakeSMS struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeSMS) SendMessage(ctx context.Context, from, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, from+"|"+to+"|"+text)
	return nil
}

func testContext(callID string) Context {
	return Context{
		CallInfo: CallInfo{CallID: callID, To: "+15550001111", From: "+15552223333"},
		Business: business.Business{
			ID:   "1",
			Kind: business.KindRestaurant,
			Name: "The Golden Fork",
		},
		Customer: Customer{ID: "+15552223333", Name: "unknown"},
	}
}

func waitSpoken(t *testing.T, calls *fakeCalls) string {
	t.Helper()
	select {
	case text := <-calls.spokenCh:
		return text
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for speech")
		return ""
	}
}

func TestTranscriptProducesSpokenResponse(t *testing.T) {
	calls := newFakeCalls()
	responder := &fakeResponder{response: "We open at five."}
	agent := newRestaurantAgent(calls, responder, &fakeSMS{}, testContext("call-1"))

	agent.handleTranscript("what time do you open")

	if got := waitSpoken(t, calls); got != "We open at five." {
		t.Fatalf("spoke %q, want %q", got, "We open at five.")
	}

	responder.mu.Lock()
	defer responder.mu.Unlock()
	if len(responder.inputs) != 1 || !strings.Contains(responder.inputs[0], "what time do you open") {
		t.Fatalf("responder inputs = %v", responder.inputs)
	}
	if !strings.HasPrefix(responder.inputs[0], "<call ") {
		t.Fatalf("transcript input not tagged as call: %q", responder.inputs[0])
	}
}

func TestTranscriptDroppedWhileResponding(t *testing.T) {
	calls := newFakeCalls()
	responder := &fakeResponder{response: "first", block: make(chan struct{})}
	agent := newRestaurantAgent(calls, responder, &fakeSMS{}, testContext("call-1"))

	agent.handleTranscript("one")
	agent.handleTranscript("two")

	close(responder.block)
	waitSpoken(t, calls)

	// Give a dropped second turn time to surface if the guard failed.
	select {
	case text := <-calls.spokenCh:
		t.Fatalf("second transcript was not dropped, spoke %q", text)
	case <-time.After(100 * time.Millisecond):
	}

	responder.mu.Lock()
	defer responder.mu.Unlock()
	if len(responder.inputs) != 1 {
		t.Fatalf("responder invoked %d times, want 1", len(responder.inputs))
	}
}

func TestFallbackSpokenOnResponderError(t *testing.T) {
	calls := newFakeCalls()
	responder := &fakeResponder{err: errors.New("model unavailable")}
	agent := newRestaurantAgent(calls, responder, &fakeSMS{}, testContext("call-1"))

	agent.handleTranscript("hello")

	if got := waitSpoken(t, calls); got != fallbackUtterance {
		t.Fatalf("spoke %q, want fallback utterance", got)
	}

	// The single-flight slot must be released after a failed turn. The
	// release runs after the fallback is spoken, so poll briefly.
	deadline := time.After(2 * time.Second)
	for {
		if ok, err := calls.BeginResponding("call-1"); err == nil && ok {
			return
		}
		select {
		case <-deadline:
			t.Fatal("responding slot not released after failed turn")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestCallStartedStreamsGreeting(t *testing.T) {
	calls := newFakeCalls()
	responder := &fakeResponder{response: "Thanks for calling The Golden Fork!"}
	agent := newRestaurantAgent(calls, responder, &fakeSMS{}, testContext("call-1"))

	agent.handleCallStarted("call-1")

	if got := waitSpoken(t, calls); got != "Thanks for calling The Golden Fork!" {
		t.Fatalf("greeting = %q", got)
	}

	responder.mu.Lock()
	defer responder.mu.Unlock()
	if len(responder.inputs) != 1 || !strings.HasPrefix(responder.inputs[0], "<call_started ") {
		t.Fatalf("greeting input = %v", responder.inputs)
	}
}

func TestCallStartedIgnoresOtherCalls(t *testing.T) {
	calls := newFakeCalls()
	responder := &fakeResponder{response: "hi"}
	agent := newRestaurantAgent(calls, responder, &fakeSMS{}, testContext("call-1"))

	agent.handleCallStarted("someone-else")

	select {
	case text := <-calls.spokenCh:
		t.Fatalf("spoke %q for a foreign call", text)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCallEndedFinalizesHistoryAndDetaches(t *testing.T) {
	calls := newFakeCalls()
	responder := &fakeResponder{}
	agent := newRestaurantAgent(calls, responder, &fakeSMS{}, testContext("call-1"))

	agent.handleCallEnded("call-1")

	responder.mu.Lock()
	if len(responder.history) != 1 || responder.history[0] != "<call_ended />" {
		t.Fatalf("history updates = %v", responder.history)
	}
	responder.mu.Unlock()

	calls.mu.Lock()
	defer calls.mu.Unlock()
	if len(calls.removed) != 3 {
		t.Fatalf("removed %d registrations, want 3", len(calls.removed))
	}
	if len(calls.transcripts) != 0 {
		t.Fatal("transcript subscription still registered after call ended")
	}
}

func TestHandleSMSMessageReplies(t *testing.T) {
	sms := &fakeSMS{}
	responder := &fakeResponder{response: "We are at 12 Main St."}
	agent := newRestaurantAgent(newFakeCalls(), responder, sms, testContext(""))

	if err := agent.HandleSMSMessage(context.Background(), "where are you"); err != nil {
		t.Fatalf("HandleSMSMessage: %v", err)
	}

	sms.mu.Lock()
	defer sms.mu.Unlock()
	if len(sms.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sms.sent))
	}
	want := "+15550001111|+15552223333|We are at 12 Main St."
	if sms.sent[0] != want {
		t.Fatalf("sent %q, want %q", sms.sent[0], want)
	}
}

func TestHandleSMSMessageFallsBackOnError(t *testing.T) {
	sms := &fakeSMS{}
	responder := &fakeResponder{err: errors.New("model unavailable")}
	agent := newRestaurantAgent(newFakeCalls(), responder, sms, testContext(""))

	if err := agent.HandleSMSMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("HandleSMSMessage: %v", err)
	}

	sms.mu.Lock()
	defer sms.mu.Unlock()
	if len(sms.sent) != 1 || !strings.Contains(sms.sent[0], fallbackUtterance) {
		t.Fatalf("fallback not sent: %v", sms.sent)
	}
}

func TestFactoryRejectsUnsupportedKinds(t *testing.T) {
	factory := NewFactory(newFakeCalls(), &fakeResponder{}, &fakeSMS{})

	for _, kind := range []business.Kind{business.KindHotel, business.KindLocalBusiness, "food_truck"} {
		agentCtx := testContext("call-1")
		agentCtx.Business.Kind = kind
		if _, err := factory.CreateAgent(agentCtx); !errors.Is(err, ErrUnsupportedBusinessKind) {
			t.Fatalf("kind %q: err = %v, want ErrUnsupportedBusinessKind", kind, err)
		}
	}

	if _, err := factory.CreateAgent(testContext("call-1")); err != nil {
		t.Fatalf("restaurant kind rejected: %v", err)
	}
}

type fakeDirectory struct {
	rest business.Restaurant
	err  error
}

func (f *fakeDirectory) GetByPhone(ctx context.Context, phone string) (business.Restaurant, error) {
	if f.err != nil {
		return business.Restaurant{}, f.err
	}
	return f.rest, nil
}

func TestContextFactoryResolvesBusiness(t *testing.T) {
	dir := &fakeDirectory{rest: business.Restaurant{
		ID:    42,
		Name:  "The Golden Fork",
		Phone: "+15550001111",
	}}
	factory := NewContextFactory(dir)

	agentCtx, err := factory.CreateContext(context.Background(), "call-1", "+15550001111", "+15552223333")
	if err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	if agentCtx.Business.ID != "42" || agentCtx.Business.Kind != business.KindRestaurant {
		t.Fatalf("business = %+v", agentCtx.Business)
	}
	if agentCtx.Customer.ID != "+15552223333" {
		t.Fatalf("customer = %+v", agentCtx.Customer)
	}
}

func TestContextFactoryUnknownNumber(t *testing.T) {
	factory := NewContextFactory(&fakeDirectory{err: errors.New("not found")})

	if _, err := factory.CreateContext(context.Background(), "call-1", "+15559998888", "+15552223333"); !errors.Is(err, ErrNoBusiness) {
		t.Fatalf("err = %v, want ErrNoBusiness", err)
	}
}
