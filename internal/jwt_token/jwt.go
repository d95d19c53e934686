package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "civicwatch/pkg/domain"
	dErrors "civicwatch/pkg/domain-errors"
)

// Claims represents the JWT claims carried by voter tokens.
type Claims struct {
	VoterID string `json:"voter_id"`
	jwt.RegisteredClaims
}

// JWTService validates (and, for tooling and tests, issues) HS256 voter tokens.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
}

func NewJWTService(signingKey string, issuer string, audience string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}
}

// GenerateVoterToken issues a token for voterID.
func (s *JWTService) GenerateVoterToken(voterID id.VoterID, expiresIn time.Duration) (string, error) {
	now := time.Now()
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		VoterID: voterID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   voterID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})
	return newToken.SignedString(s.signingKey)
}

func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// ValidateVoterToken satisfies the auth middleware's TokenValidator.
func (s *JWTService) ValidateVoterToken(tokenString string) (id.VoterID, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return id.VoterID{}, err
	}
	voterID, err := id.ParseVoterID(claims.VoterID)
	if err != nil {
		return id.VoterID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return voterID, nil
}
