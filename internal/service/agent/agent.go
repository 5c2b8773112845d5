package agent

import (
	"context"
	"fmt"
	"log"

	callservice "github.com/steven-haddix/nomnom/internal/service/call"
)

// fallbackUtterance is what the customer hears or reads when a provider call
// fails. Failures are never silent.
const fallbackUtterance = "I apologize, there was an error processing your request. Please try again later."

// CallController is the slice of the call session manager an agent drives.
type CallController interface {
	SubscribeToTranscripts(callID string, fn func(transcript string)) (callservice.Handle, error)
	UnsubscribeFromTranscripts(callID string, h callservice.Handle)
	OnCallStarted(fn func(callID string)) callservice.Handle
	OnCallEnded(fn func(callID string)) callservice.Handle
	RemoveCallStartedListener(h callservice.Handle)
	RemoveCallEndedListener(h callservice.Handle)
	BeginResponding(callID string) (bool, error)
	EndResponding(callID string)
	SpeakToCall(callID, text string) error
	SpeakToCallStream(callID string, texts <-chan string) error
}

// ResponseGenerator produces replies for conversation events.
type ResponseGenerator interface {
	GetResponse(ctx context.Context, sessionID, inputEvent, contextInfo string) (string, error)
	GetResponseStream(ctx context.Context, sessionID, inputEvent, contextInfo string) (<-chan string, error)
	UpdateHistory(ctx context.Context, sessionID, message string) error
}

// RestaurantAgent answers one customer conversation for one restaurant,
// over voice, SMS, or both. For voice it subscribes to the call's
// transcripts and to the manager's lifecycle notifications.
type RestaurantAgent struct {
	calls     CallController
	responder ResponseGenerator
	sms       SMSSender
	context   Context

	transcriptHandle callservice.Handle
	startedHandle    callservice.Handle
	endedHandle      callservice.Handle
}

func newRestaurantAgent(calls CallController, responder ResponseGenerator, sms SMSSender, agentCtx Context) *RestaurantAgent {
	a := &RestaurantAgent{
		calls:     calls,
		responder: responder,
		sms:       sms,
		context:   agentCtx,
	}

	if callID := agentCtx.CallInfo.CallID; callID != "" {
		h, err := calls.SubscribeToTranscripts(callID, a.handleTranscript)
		if err != nil {
			log.Printf("[agent] subscribe to call %s: %v", callID, err)
		}
		a.transcriptHandle = h
		a.startedHandle = calls.OnCallStarted(a.handleCallStarted)
		a.endedHandle = calls.OnCallEnded(a.handleCallEnded)
	}

	return a
}

// sessionID keys conversation history by the two phone numbers, so a caller
// reaching the same restaurant over voice and SMS shares one thread.
func (a *RestaurantAgent) sessionID() string {
	return a.context.CallInfo.To + "-" + a.context.CallInfo.From
}

// handleTranscript runs the transcript through the response generator and
// speaks the reply. One response per session may be in flight; transcripts
// arriving while busy are dropped, trusting the caller to repeat themselves
// through the provider's own turn-taking.
func (a *RestaurantAgent) handleTranscript(transcript string) {
	callID := a.context.CallInfo.CallID

	ok, err := a.calls.BeginResponding(callID)
	if err != nil {
		log.Printf("[agent] transcript for %s: %v", callID, err)
		return
	}
	if !ok {
		log.Printf("[agent] already responding on %s, dropping transcript %q", callID, transcript)
		return
	}

	go func() {
		defer a.calls.EndResponding(callID)

		ctx := context.Background()
		input := fmt.Sprintf("<call phone=%q>%s</call>", a.context.CallInfo.From, transcript)
		response, err := a.responder.GetResponse(ctx, a.sessionID(), input, a.context.Business.Info())
		if err != nil {
			log.Printf("[agent] generate response for %s: %v", callID, err)
			a.speakFallback(callID)
			return
		}
		if err := a.calls.SpeakToCall(callID, response); err != nil {
			log.Printf("[agent] speak to %s: %v", callID, err)
		}
	}()
}

// handleCallStarted opens the conversation with a streamed greeting.
func (a *RestaurantAgent) handleCallStarted(callID string) {
	if callID != a.context.CallInfo.CallID {
		return
	}

	ok, err := a.calls.BeginResponding(callID)
	if err != nil {
		log.Printf("[agent] call started for %s: %v", callID, err)
		return
	}
	if !ok {
		return
	}

	go func() {
		defer a.calls.EndResponding(callID)

		ctx := context.Background()
		input := fmt.Sprintf("<call_started phone=%q />", a.context.CallInfo.From)
		chunks, err := a.responder.GetResponseStream(ctx, a.sessionID(), input, a.context.Business.Info())
		if err != nil {
			log.Printf("[agent] greeting for %s: %v", callID, err)
			a.speakFallback(callID)
			return
		}
		if err := a.calls.SpeakToCallStream(callID, chunks); err != nil {
			log.Printf("[agent] speak greeting to %s: %v", callID, err)
		}
	}()
}

// handleCallEnded finalizes the conversation history and detaches the agent
// from the manager.
func (a *RestaurantAgent) handleCallEnded(callID string) {
	if callID != a.context.CallInfo.CallID {
		return
	}

	if err := a.responder.UpdateHistory(context.Background(), a.sessionID(), "<call_ended />"); err != nil {
		log.Printf("[agent] finalize history for %s: %v", callID, err)
	}
	a.detach()
}

// detach removes every listener this agent registered. The transcript
// subscription died with the session; the lifecycle registrations are
// process-wide and must be removed explicitly.
func (a *RestaurantAgent) detach() {
	callID := a.context.CallInfo.CallID
	a.calls.UnsubscribeFromTranscripts(callID, a.transcriptHandle)
	a.calls.RemoveCallStartedListener(a.startedHandle)
	a.calls.RemoveCallEndedListener(a.endedHandle)
}

// HandleSMSMessage answers one inbound SMS and replies over the message side
// channel. Provider failures become a fallback text, never silence.
func (a *RestaurantAgent) HandleSMSMessage(ctx context.Context, message string) error {
	to := a.context.CallInfo.To
	from := a.context.CallInfo.From

	input := fmt.Sprintf("<sms phone=%q>%s</sms>", from, message)
	response, err := a.responder.GetResponse(ctx, a.sessionID(), input, a.context.Business.Info())
	if err != nil {
		log.Printf("[agent] generate sms response for %s: %v", a.sessionID(), err)
		return a.sms.SendMessage(ctx, to, from, fallbackUtterance)
	}
	return a.sms.SendMessage(ctx, to, from, response)
}

func (a *RestaurantAgent) speakFallback(callID string) {
	if err := a.calls.SpeakToCall(callID, fallbackUtterance); err != nil {
		log.Printf("[agent] speak fallback to %s: %v", callID, err)
	}
}
