package domain

import "fmt"

// ValidateDocument checks the enum fields a stored document may carry.
// Absent fields are accepted; partial patches are validated the same way.
func ValidateDocument(entityType EntityType, doc Document) error {
	switch entityType {
	case EntityTypeTickets:
		if v, ok := doc["status"]; ok && v != nil {
			if s, _ := v.(string); !TicketStatus(s).Valid() {
				return fmt.Errorf("invalid ticket status %v", v)
			}
		}
		if v, ok := doc["priority"]; ok && v != nil {
			if s, _ := v.(string); !TicketPriority(s).Valid() {
				return fmt.Errorf("invalid ticket priority %v", v)
			}
		}
	case EntityTypeUsers:
		if v, ok := doc["role"]; ok && v != nil {
			if s, _ := v.(string); !UserRole(s).Valid() {
				return fmt.Errorf("invalid user role %v", v)
			}
		}
	}
	return nil
}
