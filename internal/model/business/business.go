package business

import (
	"encoding/json"
	"time"
)

// Kind discriminates which agent behaviour applies to a business.
type Kind string

const (
	KindRestaurant    Kind = "restaurant"
	KindHotel         Kind = "hotel"
	KindLocalBusiness Kind = "local_business"
)

// Restaurant is a row in the restaurants table.
type Restaurant struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Address         string    `json:"address"`
	Phone           string    `json:"phone"`
	Website         string    `json:"website"`
	OperatingHours  string    `json:"operatingHours"`
	CuisineType     string    `json:"cuisineType"`
	DeliveryOptions string    `json:"deliveryOptions"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Business is the provider-agnostic view an agent works against.
type Business struct {
	ID             string `json:"id"`
	Kind           Kind   `json:"kind"`
	Name           string `json:"name"`
	Address        string `json:"address"`
	Phone          string `json:"phone"`
	Website        string `json:"website"`
	OperatingHours string `json:"operatingHours"`
}

// Info renders the business facts handed to the language model as context.
func (b Business) Info() string {
	out, err := json.Marshal(map[string]string{
		"Business Name": b.Name,
		"Address":       b.Address,
		"Phone Number":  b.Phone,
		"Website":       b.Website,
		"Hours":         b.OperatingHours,
	})
	if err != nil {
		return ""
	}
	return string(out)
}
