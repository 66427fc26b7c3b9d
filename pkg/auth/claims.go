package auth

import (
	"errors"
	"fmt"

	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.MemberRole
	JTI    string
}

// AccessTokenClaims represents the typed JWT presented by clients. The
// payment surface only trusts the subject and role.
type AccessTokenClaims struct {
	UserID uuid.UUID        `json:"user_id"`
	Role   enums.MemberRole `json:"role"`
	jwt.RegisteredClaims
}

// Validate runs after the registered-claim checks in jwt.ParseWithClaims.
func (c AccessTokenClaims) Validate() error {
	if c.UserID == uuid.Nil {
		return errors.New("token carries no user id")
	}
	if c.Subject != "" && c.Subject != c.UserID.String() {
		return errors.New("token subject does not match user id")
	}
	if !c.Role.IsValid() {
		return fmt.Errorf("token carries unknown role %q", c.Role)
	}
	return nil
}
