package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/cloudwego/eino/schema"
)

// toolset is the fixed tool surface exposed to the chat model.
type toolset struct {
	sms SMSSender
}

func newToolset(sms SMSSender) *toolset {
	return &toolset{sms: sms}
}

const sendSMSToolName = "sendSMS"

func (t *toolset) infos() []*schema.ToolInfo {
	return []*schema.ToolInfo{
		{
			Name: sendSMSToolName,
			Desc: "Send an SMS message to a phone number",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"from": {
					Type:     schema.String,
					Desc:     "The restaurant phone number the message is from",
					Required: true,
				},
				"to": {
					Type:     schema.String,
					Desc:     "The phone number of the customer",
					Required: true,
				},
				"message": {
					Type:     schema.String,
					Desc:     "The message to send",
					Required: true,
				},
			}),
		},
	}
}

type sendSMSArgs struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message"`
}

// invoke executes a named tool. Tool failures are reported back to the model
// as content rather than failing the turn; the conversation continues.
func (t *toolset) invoke(ctx context.Context, name, argsJSON string) (string, error) {
	switch name {
	case sendSMSToolName:
		var args sendSMSArgs
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("decode %s arguments: %w", name, err)
		}
		if err := t.sms.SendMessage(ctx, args.From, args.To, args.Message); err != nil {
			log.Printf("[agent] sendSMS from %s to %s failed: %v", args.From, args.To, err)
			return fmt.Sprintf("Failed to send SMS to %s", args.To), nil
		}
		log.Printf("[agent] sent SMS from %s to %s", args.From, args.To)
		return fmt.Sprintf("SMS sent successfully to %s", args.To), nil
	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
}
