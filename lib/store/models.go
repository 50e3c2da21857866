package store

// Contact contains the fields of an address book contact saved to DB.
type Contact struct {
	AccountID string   `json:"accountId" bson:"accountId"`
	Alias     string   `json:"alias,omitempty" bson:"alias,omitempty"`
	Tags      []string `json:"tags,omitempty" bson:"tags,omitempty"`
	CreatedAt int64    `json:"createdAt" bson:"createdAt"` // milliseconds
}
