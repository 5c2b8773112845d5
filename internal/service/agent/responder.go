// Package agent hosts the conversational layer: the LLM-backed response
// generator, the per-business agents that drive a call, and the tool surface
// those agents expose to the model.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// History persists conversation messages per session.
type History interface {
	Append(ctx context.Context, sessionID string, msgs ...*schema.Message) error
	Load(ctx context.Context, sessionID string) ([]*schema.Message, error)
}

// SMSSender is the outbound message side channel the model can invoke as a
// tool.
type SMSSender interface {
	SendMessage(ctx context.Context, from, to, text string) error
}

// Responder generates replies with the configured chat model, maintaining
// redis-backed history and executing tool calls.
type Responder struct {
	chatModel model.ChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
	history   History
	tools     *toolset
}

// NewResponder compiles the prompt/model chain and binds the tool surface.
func NewResponder(ctx context.Context, chatModel model.ChatModel, history History, sms SMSSender) (*Responder, error) {
	tools := newToolset(sms)
	if err := chatModel.BindTools(tools.infos()); err != nil {
		return nil, fmt.Errorf("bind tools: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile chat chain: %w", err)
	}

	return &Responder{
		chatModel: chatModel,
		chain:     runnable,
		history:   history,
		tools:     tools,
	}, nil
}

// GetResponse produces one reply for the input event, running at most one
// round of tool calls, and persists the exchange.
func (r *Responder) GetResponse(ctx context.Context, sessionID, inputEvent, contextInfo string) (string, error) {
	if sessionID == "" {
		return "", errors.New("no session id provided")
	}

	past, err := r.history.Load(ctx, sessionID)
	if err != nil {
		return "", err
	}

	reply, err := r.chain.Invoke(ctx, map[string]any{
		"system":  systemPrompt(contextInfo),
		"history": past,
		"query":   inputEvent,
	})
	if err != nil {
		return "", fmt.Errorf("run chat chain: %w", err)
	}

	exchange := []*schema.Message{schema.UserMessage(inputEvent)}

	if len(reply.ToolCalls) > 0 {
		final, toolMsgs, toolErr := r.runToolCall(ctx, contextInfo, past, inputEvent, reply)
		if toolErr != nil {
			return "", toolErr
		}
		exchange = append(exchange, toolMsgs...)
		reply = final
	}
	exchange = append(exchange, reply)

	if err := r.history.Append(ctx, sessionID, exchange...); err != nil {
		log.Printf("[agent] persist history for session %s: %v", sessionID, err)
	}

	log.Printf("[agent] response for session=%s length=%d", sessionID, len(reply.Content))
	return reply.Content, nil
}

// runToolCall executes the first requested tool and asks the model to finish
// the turn with the tool result in context.
func (r *Responder) runToolCall(ctx context.Context, contextInfo string, past []*schema.Message, inputEvent string, reply *schema.Message) (*schema.Message, []*schema.Message, error) {
	call := reply.ToolCalls[0]
	log.Printf("[agent] tool call %s args=%s", call.Function.Name, call.Function.Arguments)

	result, err := r.tools.invoke(ctx, call.Function.Name, call.Function.Arguments)
	if err != nil {
		return nil, nil, fmt.Errorf("invoke tool %s: %w", call.Function.Name, err)
	}
	toolMsg := schema.ToolMessage(result, call.ID)

	msgs := make([]*schema.Message, 0, len(past)+4)
	msgs = append(msgs, schema.SystemMessage(systemPrompt(contextInfo)))
	msgs = append(msgs, past...)
	msgs = append(msgs, schema.UserMessage(inputEvent), reply, toolMsg)

	final, err := r.chatModel.Generate(ctx, msgs)
	if err != nil {
		return nil, nil, fmt.Errorf("finish tool turn: %w", err)
	}
	return final, []*schema.Message{reply, toolMsg}, nil
}

// GetResponseStream produces the reply as a lazy sequence of text chunks in
// model order. Tool calls are not executed on the streaming path; it is used
// for the call-opening greeting where no tool should fire.
func (r *Responder) GetResponseStream(ctx context.Context, sessionID, inputEvent, contextInfo string) (<-chan string, error) {
	if sessionID == "" {
		return nil, errors.New("no session id provided")
	}

	past, err := r.history.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	stream, err := r.chain.Stream(ctx, map[string]any{
		"system":  systemPrompt(contextInfo),
		"history": past,
		"query":   inputEvent,
	})
	if err != nil {
		return nil, fmt.Errorf("stream chat chain: %w", err)
	}

	out := make(chan string, 8)
	go func() {
		defer close(out)
		defer stream.Close()

		var full strings.Builder
		for {
			chunk, recvErr := stream.Recv()
			if errors.Is(recvErr, io.EOF) {
				break
			}
			if recvErr != nil {
				log.Printf("[agent] stream for session %s interrupted: %v", sessionID, recvErr)
				break
			}
			if chunk == nil || chunk.Content == "" {
				continue
			}
			full.WriteString(chunk.Content)
			select {
			case out <- chunk.Content:
			case <-ctx.Done():
				return
			}
		}

		if err := r.history.Append(ctx, sessionID,
			schema.UserMessage(inputEvent),
			schema.AssistantMessage(full.String(), nil),
		); err != nil {
			log.Printf("[agent] persist history for session %s: %v", sessionID, err)
		}
	}()

	return out, nil
}

// UpdateHistory records an event in the conversation without generating a
// reply; used to close out a call.
func (r *Responder) UpdateHistory(ctx context.Context, sessionID, message string) error {
	return r.history.Append(ctx, sessionID, schema.UserMessage(message))
}
