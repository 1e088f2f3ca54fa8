package payment

import (
	"context"

	"github.com/google/uuid"
)

// Validation is the membership provider's verdict for one membership.
type Validation struct {
	Valid  bool
	Reason string
}

// MembershipProvider validates that a membership may settle the given lines.
// Implemented by the platform's membership/billing system; the splitter only
// records charges for it to execute later.
type MembershipProvider interface {
	Validate(ctx context.Context, membershipID, appID string, lineItemIDs []uuid.UUID) (Validation, error)
}
