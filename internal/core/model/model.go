// Package model defines core domain types shared across the service.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// LatLng is encoded as a [lat, lng] pair.
type LatLng struct {
	Lat float64
	Lng float64
}

func (p LatLng) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Lat, p.Lng})
}

func (p *LatLng) UnmarshalJSON(b []byte) error {
	var v []float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("latlng: %w", err)
	}
	if len(v) != 2 {
		return fmt.Errorf("latlng: expected 2 values, got %d", len(v))
	}
	p.Lat, p.Lng = v[0], v[1]
	return nil
}

func (p LatLng) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Bounds is a city bounding box encoded as [south, west, north, east].
type Bounds struct {
	South, West float64
	North, East float64
}

func (b Bounds) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{b.South, b.West, b.North, b.East})
}

func (b *Bounds) UnmarshalJSON(raw []byte) error {
	var v []float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("bounds: %w", err)
	}
	if len(v) != 4 {
		return fmt.Errorf("bounds: expected 4 values, got %d", len(v))
	}
	b.South, b.West, b.North, b.East = v[0], v[1], v[2], v[3]
	return nil
}

func (b Bounds) Validate() error {
	if !(b.South >= -90 && b.South <= 90 && b.North >= -90 && b.North <= 90) {
		return errors.New("latitude must be in [-90,90]")
	}
	if !(b.West >= -180 && b.West <= 180 && b.East >= -180 && b.East <= 180) {
		return errors.New("longitude must be in [-180,180]")
	}
	if b.North < b.South || b.East < b.West {
		return errors.New("bounds must satisfy north>=south and east>=west")
	}
	return nil
}

// MapEntry is one row of the map catalog.
type MapEntry struct {
	ID            int       `json:"id"`
	Title         string    `json:"title"`
	City          string    `json:"city"`
	State         string    `json:"state"`
	BusinessTypes []string  `json:"businessTypes"`
	Location      LatLng    `json:"location"`
	Bounds        Bounds    `json:"bounds"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// MapRecord is one business inside a map dataset. The short keys match the
// dataset files consumed by the map viewer.
type MapRecord struct {
	Name        string `json:"n"`
	Address     string `json:"a"`
	Phone       string `json:"p"`
	Website     string `json:"w"`
	Coordinates LatLng `json:"c"`
	Type        string `json:"t"`
}

type CreateRequest struct {
	City          string   `json:"city"`
	State         string   `json:"state"`
	Title         string   `json:"title"`
	BusinessTypes []string `json:"businessTypes"`
}

// AcquireRequest is passed positionally to the acquisition process.
type AcquireRequest struct {
	City          string
	State         string
	Title         string
	BusinessTypes []string
}

// Acquisition is the success payload of the acquisition process.
type Acquisition struct {
	Location LatLng      `json:"location"`
	Bounds   Bounds      `json:"bounds"`
	Records  []MapRecord `json:"records"`
}
