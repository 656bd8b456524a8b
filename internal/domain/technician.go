package domain

import (
	"encoding/json"
	"fmt"
)

// EntityTypeTechnicians is the materialized view key for technicians.
const EntityTypeTechnicians EntityType = "technicians"

// Technician models a support agent tickets can be assigned to. Tickets
// hold a weak reference to it through AssignedTechID.
type Technician struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Active bool   `json:"active"`
}

// TechnicianFromDocument decodes a materialized document into a Technician.
func TechnicianFromDocument(doc Document) (*Technician, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("decode technician: %w", err)
	}
	var tech Technician
	if err := json.Unmarshal(raw, &tech); err != nil {
		return nil, fmt.Errorf("decode technician: %w", err)
	}
	return &tech, nil
}
