package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/steven-haddix/nomnom/internal/model/business"
)

var (
	// ErrUnsupportedBusinessKind is returned for business kinds no agent
	// implementation exists for yet.
	ErrUnsupportedBusinessKind = errors.New("unsupported business kind")
	// ErrNoBusiness is returned when the dialled number maps to nothing.
	ErrNoBusiness = errors.New("no business for number")
)

// CallInfo ties an agent to one conversation's routing.
type CallInfo struct {
	CallID string
	To     string
	From   string
}

// Customer is who the agent is talking to.
type Customer struct {
	ID   string
	Name string
}

// Context is everything an agent needs to serve one conversation.
type Context struct {
	CallInfo CallInfo
	Business business.Business
	Customer Customer
}

// BusinessDirectory resolves the business a customer dialled.
type BusinessDirectory interface {
	GetByPhone(ctx context.Context, phone string) (business.Restaurant, error)
}

// ContextFactory builds agent contexts from call routing metadata.
type ContextFactory struct {
	restaurants BusinessDirectory
}

// NewContextFactory creates a context factory over the business directory.
func NewContextFactory(restaurants BusinessDirectory) *ContextFactory {
	return &ContextFactory{restaurants: restaurants}
}

// CreateContext resolves the business behind the dialled number and the
// customer behind the calling one.
func (f *ContextFactory) CreateContext(ctx context.Context, callID, to, from string) (Context, error) {
	rest, err := f.restaurants.GetByPhone(ctx, to)
	if err != nil {
		return Context{}, fmt.Errorf("%w: %s", ErrNoBusiness, to)
	}

	return Context{
		CallInfo: CallInfo{CallID: callID, To: to, From: from},
		Business: business.Business{
			ID:             strconv.FormatInt(rest.ID, 10),
			Kind:           business.KindRestaurant,
			Name:           rest.Name,
			Address:        rest.Address,
			Phone:          rest.Phone,
			Website:        rest.Website,
			OperatingHours: rest.OperatingHours,
		},
		// The caller's number is the customer identity until a customer
		// directory exists.
		Customer: Customer{ID: from, Name: "unknown"},
	}, nil
}

// Factory creates the agent implementation matching a business kind.
type Factory struct {
	calls     CallController
	responder ResponseGenerator
	sms       SMSSender
}

// NewFactory wires the dependencies every agent shares.
func NewFactory(calls CallController, responder ResponseGenerator, sms SMSSender) *Factory {
	return &Factory{calls: calls, responder: responder, sms: sms}
}

// CreateAgent builds the agent for the context's business kind. Kinds
// without an implementation fail explicitly rather than misbehaving.
func (f *Factory) CreateAgent(agentCtx Context) (*RestaurantAgent, error) {
	switch agentCtx.Business.Kind {
	case business.KindRestaurant:
		return newRestaurantAgent(f.calls, f.responder, f.sms, agentCtx), nil
	case business.KindHotel, business.KindLocalBusiness:
		return nil, fmt.Errorf("%s: %w", agentCtx.Business.Kind, ErrUnsupportedBusinessKind)
	default:
		return nil, fmt.Errorf("%s: %w", agentCtx.Business.Kind, ErrUnsupportedBusinessKind)
	}
}
