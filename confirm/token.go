/*
Package confirm implements two-phase confirmation for destructive admin actions.

PURPOSE:
  Cancelling an assignment, reassigning a slot and cancelling an order
  are confirmed in two steps:

    1. Plan:    the engine describes the effect and the state it observed
                (slot version, order status). The Issuer signs that Intent.
    2. Execute: the caller sends the token back. The Intent is verified
                and executed with the observed state as a precondition.

  If anything changed between plan and execute (another admin acted, the
  fulfiller responded) the precondition fails with a ConflictError and
  nothing is written. The token is stateless: nothing is stored between
  the two steps.

TOKENS:
  HS256 JWTs. The Intent travels in custom claims next to the registered
  ones (iss, exp, iat, jti). Expired, tampered or foreign tokens are a
  ValidationError.

SEE ALSO:
  - allocation/plan.go: Plan* and Execute
*/
package confirm

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/warp/fulfillment-engine/generic"
)

const issuer = "fulfillment-engine"

// DefaultTTL is how long a confirmation token stays valid.
const DefaultTTL = 5 * time.Minute

type Action string

const (
	ActionCancelAssignment Action = "cancel_assignment"
	ActionReassign         Action = "reassign"
	ActionCancelOrder      Action = "cancel_order"
)

func (a Action) Valid() bool {
	return a == ActionCancelAssignment || a == ActionReassign || a == ActionCancelOrder
}

// Intent is a planned action plus the state it was planned against.
type Intent struct {
	Action  Action          `json:"action"`
	OrderID generic.OrderID `json:"order_id"`
	Role    generic.Role    `json:"role,omitempty"`

	// FulfillerID is the new fulfiller for a reassign.
	FulfillerID generic.FulfillerID `json:"fulfiller_id,omitempty"`

	// Preconditions observed at plan time.
	SlotVersion int64               `json:"slot_version"`
	OrderStatus generic.OrderStatus `json:"order_status"`

	Reason string `json:"reason,omitempty"`
	// Effect is a human-readable description shown before confirming.
	Effect string `json:"effect"`
}

type claims struct {
	Intent
	jwt.RegisteredClaims
}

// Token is a signed Intent.
type Token struct {
	Value     string
	ExpiresAt time.Time
	Intent    Intent
}

// Issuer signs and verifies confirmation tokens.
type Issuer struct {
	secret []byte
	TTL    time.Duration
	Now    generic.Clock
}

func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("confirm: empty signing secret")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), TTL: ttl, Now: generic.SystemClock}, nil
}

// Issue signs intent.
func (i *Issuer) Issue(intent Intent) (Token, error) {
	if !intent.Action.Valid() {
		return Token{}, &generic.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", intent.Action)}
	}
	now := i.Now.Now()
	exp := now.Add(i.TTL)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Intent: intent,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   string(intent.OrderID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	})
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign confirmation: %w", err)
	}
	return Token{Value: signed, ExpiresAt: exp, Intent: intent}, nil
}

// Verify checks signature, issuer and expiry and returns the Intent.
func (i *Issuer) Verify(value string) (Intent, error) {
	var c claims
	_, err := jwt.ParseWithClaims(value, &c,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.Now.Now),
	)
	if err != nil {
		return Intent{}, &generic.ValidationError{Field: "token", Reason: err.Error()}
	}
	if !c.Action.Valid() {
		return Intent{}, &generic.ValidationError{Field: "token", Reason: fmt.Sprintf("unknown action %q", c.Action)}
	}
	return c.Intent, nil
}
