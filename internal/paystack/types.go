package paystack

import (
	"encoding/json"
	"time"
)

// envelope is the response wrapper used by every Paystack endpoint.
type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
	Meta    *Meta  `json:"meta,omitempty"`
}

// Meta carries list pagination.
type Meta struct {
	Total     int `json:"total"`
	Page      int `json:"page"`
	PerPage   int `json:"perPage"`
	PageCount int `json:"pageCount"`
}

// CustomerInput is the payload for CreateCustomer.
type CustomerInput struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone,omitempty"`
}

// Customer is a processor customer record.
type Customer struct {
	ID            int64          `json:"id"`
	CustomerCode  string         `json:"customer_code"`
	Email         string         `json:"email"`
	FirstName     string         `json:"first_name"`
	LastName      string         `json:"last_name"`
	Phone         string         `json:"phone"`
	Subscriptions []Subscription `json:"subscriptions"`
}

// PlanRef is the plan summary embedded in subscriptions and transactions.
type PlanRef struct {
	PlanCode string `json:"plan_code"`
	Name     string `json:"name"`
	Interval string `json:"interval"`
	Amount   int64  `json:"amount"`
}

// Subscription is a processor subscription.
type Subscription struct {
	SubscriptionCode string     `json:"subscription_code"`
	EmailToken       string     `json:"email_token"`
	Status           string     `json:"status"`
	NextPaymentDate  *time.Time `json:"next_payment_date"`
	CreatedAt        *time.Time `json:"createdAt"`
	Plan             PlanRef    `json:"plan"`
}

// TransactionInput is the payload for InitializeTransaction.
type TransactionInput struct {
	Email     string `json:"email"`
	Amount    int64  `json:"amount"`
	Plan      string `json:"plan"`
	Reference string `json:"reference"`
}

// Session is the hosted payment page for a transaction.
type Session struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Authorization is a reusable card authorization.
type Authorization struct {
	AuthorizationCode string `json:"authorization_code"`
	Reusable          bool   `json:"reusable"`
}

// Transaction is a verified payment.
type Transaction struct {
	ID            int64           `json:"id"`
	Status        string          `json:"status"`
	Reference     string          `json:"reference"`
	Amount        int64           `json:"amount"`
	Currency      string          `json:"currency"`
	Authorization Authorization   `json:"authorization"`
	Customer      Customer        `json:"customer"`
	Metadata      json.RawMessage `json:"metadata"`
}

// Succeeded reports whether the processor settled the transaction.
func (t *Transaction) Succeeded() bool { return t.Status == "success" }

// Plan is a processor plan.
type Plan struct {
	ID          int64  `json:"id"`
	PlanCode    string `json:"plan_code"`
	Name        string `json:"name"`
	Amount      int64  `json:"amount"`
	Interval    string `json:"interval"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	IsDeleted   bool   `json:"is_deleted"`
	IsArchived  bool   `json:"is_archived"`
}

// Active reports whether the plan can be subscribed to.
func (p *Plan) Active() bool { return !p.IsDeleted && !p.IsArchived }
