package domain

import "time"

// Product is a workspace that groups conversations and veredicts.
type Product struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Context   string    `json:"context"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProductContextChange is the audit row written for every product context edit.
type ProductContextChange struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	ActorID   string    `json:"actor_id"`
	Previous  string    `json:"previous"`
	Next      string    `json:"next"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Veredict is a user-confirmed pain/value decision record. Version is a
// strictly increasing per-product sequence starting at 1.
type Veredict struct {
	ID             string    `json:"id"`
	ProductID      string    `json:"product_id"`
	ConversationID string    `json:"conversation_id"`
	Pain           string    `json:"pain"`
	Value          string    `json:"value"`
	Notes          string    `json:"notes,omitempty"`
	Version        int       `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}
