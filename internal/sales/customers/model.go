package customers

import "time"

// Customer is a contact shared across quotations. Name is the match key.
type Customer struct {
	ID              int64     `json:"id"`
	Code            string    `json:"customer_code"`
	Name            string    `json:"name"`
	Phone           string    `json:"phone,omitempty"`
	Email           string    `json:"email,omitempty"`
	Address         string    `json:"address,omitempty"`
	ProfileImageURL string    `json:"profile_image_url,omitempty"`
	Version         int       `json:"version"`
	CreatedBy       string    `json:"created_by"`
	UpdatedBy       string    `json:"updated_by,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HistoryEntry is the state of a customer just before a mutation.
type HistoryEntry struct {
	ID              int64     `json:"id"`
	CustomerID      int64     `json:"customer_id"`
	Name            string    `json:"name"`
	Phone           string    `json:"phone,omitempty"`
	Email           string    `json:"email,omitempty"`
	Address         string    `json:"address,omitempty"`
	ProfileImageURL string    `json:"profile_image_url,omitempty"`
	Version         int       `json:"version"`
	ChangedBy       string    `json:"changed_by"`
	ChangedAt       time.Time `json:"changed_at"`
}

// Input is the customer block of a quotation request. Empty fields leave
// the stored value untouched.
type Input struct {
	Name            string `json:"name" validate:"omitempty,max=200"`
	Phone           string `json:"phone,omitempty" validate:"omitempty,max=50"`
	Email           string `json:"email,omitempty" validate:"omitempty,email"`
	Address         string `json:"address,omitempty" validate:"omitempty,max=500"`
	ProfileImageURL string `json:"profile_image_url,omitempty" validate:"omitempty,url"`
}

func snapshot(c *Customer, actor string) HistoryEntry {
	return HistoryEntry{
		CustomerID:      c.ID,
		Name:            c.Name,
		Phone:           c.Phone,
		Email:           c.Email,
		Address:         c.Address,
		ProfileImageURL: c.ProfileImageURL,
		Version:         c.Version,
		ChangedBy:       actor,
	}
}

// apply copies non-empty input fields onto c and reports whether any
// stored value changed.
func apply(c *Customer, in Input) bool {
	changed := false
	set := func(dst *string, v string) {
		if v != "" && *dst != v {
			*dst = v
			changed = true
		}
	}
	set(&c.Phone, in.Phone)
	set(&c.Email, in.Email)
	set(&c.Address, in.Address)
	set(&c.ProfileImageURL, in.ProfileImageURL)
	return changed
}
