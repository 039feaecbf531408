package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/hibridge/engine/generic"
)

// Subscription is a browser push subscription owned by one employee.
type Subscription struct {
	EmployeeID generic.EmployeeID `json:"employee_id"`
	Endpoint   string             `json:"endpoint"`
	P256DH     string             `json:"p256dh"`
	Auth       string             `json:"auth"`
	CreatedAt  time.Time          `json:"created_at"`
}

// Subscriptions stores push subscriptions under push:<employee>:<hash(endpoint)>.
type Subscriptions struct {
	KV generic.KV
}

func NewSubscriptions(kv generic.KV) *Subscriptions {
	return &Subscriptions{KV: kv}
}

func subscriptionKey(employeeID generic.EmployeeID, endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return fmt.Sprintf("push:%s:%s", employeeID, hex.EncodeToString(sum[:8]))
}

// Put creates or replaces the subscription for its endpoint.
func (s *Subscriptions) Put(ctx context.Context, sub Subscription) error {
	if strings.TrimSpace(sub.Endpoint) == "" {
		return generic.NewValidationError("endpoint", "is required")
	}
	if sub.P256DH == "" || sub.Auth == "" {
		return generic.NewValidationError("keys", "p256dh and auth are required")
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	_, err := generic.SetJSON(ctx, s.KV, subscriptionKey(sub.EmployeeID, sub.Endpoint), sub)
	return err
}

func (s *Subscriptions) Delete(ctx context.Context, employeeID generic.EmployeeID, endpoint string) error {
	return s.KV.Delete(ctx, subscriptionKey(employeeID, endpoint))
}

func (s *Subscriptions) List(ctx context.Context, employeeID generic.EmployeeID) ([]Subscription, error) {
	return generic.ListJSON[Subscription](ctx, s.KV, fmt.Sprintf("push:%s:", employeeID))
}
