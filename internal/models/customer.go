package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Customer owns licenses. Customers are created from billing events or by operators.
type Customer struct {
	ID                 uuid.UUID `json:"id"`
	Email              string    `json:"email"`
	Name               string    `json:"name"`
	ExternalCustomerID string    `json:"external_customer_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// NewCustomer creates a customer with a normalized email address.
func NewCustomer(email, name, externalID string) *Customer {
	now := time.Now()
	return &Customer{
		ID:                 uuid.New(),
		Email:              strings.ToLower(strings.TrimSpace(email)),
		Name:               name,
		ExternalCustomerID: externalID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
