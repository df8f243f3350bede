package testsupport

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// TennisPlayer is the payload used across the module's tests.
type TennisPlayer struct {
	Name    string `json:"name"`
	Ranking int    `json:"ranking"`
	Country string `json:"country"`
}

// Validate requires a name and a non-negative ranking.
func (p TennisPlayer) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required, validation.Length(1, 120)),
		validation.Field(&p.Ranking, validation.Min(0)),
		validation.Field(&p.Country, validation.Length(0, 3)),
	)
}
