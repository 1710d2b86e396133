package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	Latitude  *float64 `json:"latitude" validate:"required,lat"`
	Longitude *float64 `json:"longitude" validate:"required,lng"`
	Kind      string   `json:"kind" validate:"omitempty,oneof=ios android"`
}

func ptr(f float64) *float64 { return &f }

func TestValidateStruct(t *testing.T) {
	assert.NoError(t, ValidateStruct(point{Latitude: ptr(27.7), Longitude: ptr(85.3)}))
	assert.NoError(t, ValidateStruct(point{Latitude: ptr(0), Longitude: ptr(0)}), "zero is a real coordinate")

	err := ValidateStruct(point{Latitude: ptr(91), Longitude: ptr(85.3)})
	require.Error(t, err)
	assert.Equal(t, "latitude must be within [-90, 90]", Message(err))

	err = ValidateStruct(point{Longitude: ptr(181), Kind: "web"})
	require.Error(t, err)
	msg := Message(err)
	assert.Contains(t, msg, "latitude is required")
	assert.Contains(t, msg, "longitude must be within [-180, 180]")
	assert.Contains(t, msg, "kind must be one of: ios android")
}
