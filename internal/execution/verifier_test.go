package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"niftyshop/internal/broker"
	"niftyshop/internal/broker/ratelimit"
)

// pollBroker scripts GetOrderStatus responses; every other method is
// inert.
type pollBroker struct {
	statuses []string
	errs     []error
	polls    int
}

func (p *pollBroker) Name() string                                       { return "poll" }
func (p *pollBroker) GetQuote(context.Context, string) (float64, error)  { return 0, nil }
func (p *pollBroker) GetHoldings(context.Context) ([]broker.Holding, error) {
	return nil, nil
}
func (p *pollBroker) GetFunds(context.Context) (float64, error) { return 0, nil }
func (p *pollBroker) GetHistory(context.Context, string, int) ([]broker.Candle, error) {
	return nil, nil
}
func (p *pollBroker) PlaceOrder(context.Context, broker.OrderRequest) (broker.OrderReceipt, error) {
	return broker.OrderReceipt{}, nil
}

func (p *pollBroker) GetOrderStatus(_ context.Context, orderID string) (broker.OrderState, error) {
	i := p.polls
	p.polls++
	if i < len(p.errs) && p.errs[i] != nil {
		return broker.OrderState{}, p.errs[i]
	}
	status := broker.OrderStatusPending
	if i < len(p.statuses) {
		status = p.statuses[i]
	}
	return broker.OrderState{OrderID: orderID, Status: status}, nil
}

func fastCaller() *ratelimit.Caller {
	c := ratelimit.NewCaller(ratelimit.Options{MinInterval: -1, MaxAttempts: 1})
	c.SetSleep(func(context.Context, time.Duration) error { return nil })
	return c
}

func newFastVerifier(b broker.Broker) *Verifier {
	v := NewVerifier(b, fastCaller(), VerifierOptions{MaxAttempts: 3, Interval: 5 * time.Second})
	v.SetSleep(func(context.Context, time.Duration) error { return nil })
	return v
}

func TestVerifyConfirmsCompleteStatus(t *testing.T) {
	pb := &pollBroker{statuses: []string{broker.OrderStatusPending, broker.OrderStatusComplete}}
	v := newFastVerifier(pb)
	require.NoError(t, v.Verify(context.Background(), "ORD-1"))
	assert.Equal(t, 2, pb.polls, "stop polling as soon as the fill confirms")
}

func TestVerifyExhaustsBudget(t *testing.T) {
	pb := &pollBroker{} // forever pending
	v := newFastVerifier(pb)
	err := v.Verify(context.Background(), "ORD-2")
	assert.ErrorIs(t, err, ErrFillUnconfirmed)
	assert.Equal(t, 3, pb.polls, "exactly the attempt budget, never more")
}

func TestVerifyCountsTransportErrorsAgainstBudget(t *testing.T) {
	pb := &pollBroker{errs: []error{
		errors.New("timeout"),
		errors.New("timeout"),
		errors.New("timeout"),
	}}
	v := newFastVerifier(pb)
	err := v.Verify(context.Background(), "ORD-3")
	assert.ErrorIs(t, err, ErrFillUnconfirmed)
	assert.Equal(t, 3, pb.polls)
}

func TestVerifyRecoversAfterTransportError(t *testing.T) {
	pb := &pollBroker{
		errs:     []error{errors.New("timeout"), nil},
		statuses: []string{"", broker.OrderStatusComplete},
	}
	v := newFastVerifier(pb)
	require.NoError(t, v.Verify(context.Background(), "ORD-4"))
}
