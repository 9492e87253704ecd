package domain

// UserSummary is the slice of a user profile that travels with conversations
// and messages: enough to render a participant, nothing more. The backend owns
// the full profile.
type UserSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role,omitempty"` // "resident" | "manager" | "board" | "staff"
}
