package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/cheongam/chatbot-backend/internal/platform/apierr"
	"github.com/cheongam/chatbot-backend/internal/platform/logger"
	"github.com/cheongam/chatbot-backend/internal/repos"
	"github.com/cheongam/chatbot-backend/internal/requestdata"
	"github.com/cheongam/chatbot-backend/internal/types"
)

type JWTClaims struct {
	jwt.RegisteredClaims
	Email   string `json:"email,omitempty"`
	IsAdmin bool   `json:"is_admin,omitempty"`
}

type AuthService interface {
	RegisterUser(ctx context.Context, email, password, fullName string) (*types.User, string, string, error)
	LoginUser(ctx context.Context, email, password string) (*types.User, string, string, error)
	RefreshUser(ctx context.Context, refreshToken string) (string, string, error)
	LogoutUser(ctx context.Context) error
	GetCurrentUser(ctx context.Context) (*types.User, error)
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
	GetAccessTTL() time.Duration
}

type authService struct {
	db            *gorm.DB
	log           *logger.Logger
	userRepo      repos.UserRepo
	userTokenRepo repos.UserTokenRepo
	jwtSecretKey  string
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewAuthService(
	db *gorm.DB,
	log *logger.Logger,
	userRepo repos.UserRepo,
	userTokenRepo repos.UserTokenRepo,
	jwtSecretKey string,
	accessTTL time.Duration,
	refreshTTL time.Duration,
) AuthService {
	return &authService{
		db:            db,
		log:           log.With("service", "AuthService"),
		userRepo:      userRepo,
		userTokenRepo: userTokenRepo,
		jwtSecretKey:  jwtSecretKey,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

func (as *authService) RegisterUser(ctx context.Context, email, password, fullName string) (*types.User, string, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	fullName = strings.TrimSpace(fullName)
	if email == "" || !strings.Contains(email, "@") {
		return nil, "", "", apierr.New(http.StatusBadRequest, "invalid_email", fmt.Errorf("a valid email is required"))
	}
	if len(password) < 8 {
		return nil, "", "", apierr.New(http.StatusBadRequest, "weak_password", fmt.Errorf("password must be at least 8 characters"))
	}

	exists, err := as.userRepo.EmailExists(ctx, nil, email)
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to check email: %w", err)
	}
	if exists {
		return nil, "", "", apierr.New(http.StatusConflict, "email_taken", fmt.Errorf("email already registered"))
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to hash password: %w", err)
	}

	user := &types.User{
		ID:       uuid.New(),
		Email:    email,
		Password: string(hashed),
		FullName: fullName,
	}

	var accessToken, refreshToken string
	if err := as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The first registered account becomes the admin, matching the
		// bootstrap behavior of the original deployment.
		count, cErr := as.userRepo.Count(ctx, tx)
		if cErr != nil {
			return fmt.Errorf("failed to count users: %w", cErr)
		}
		user.IsAdmin = count == 0

		if _, cErr := as.userRepo.Create(ctx, tx, []*types.User{user}); cErr != nil {
			return fmt.Errorf("failed to create user: %w", cErr)
		}
		var tErr error
		accessToken, refreshToken, tErr = as.issueTokens(ctx, tx, user)
		return tErr
	}); err != nil {
		return nil, "", "", err
	}

	as.log.Info("User registered", "user_id", user.ID.String(), "is_admin", user.IsAdmin)
	return user, accessToken, refreshToken, nil
}

func (as *authService) LoginUser(ctx context.Context, email, password string) (*types.User, string, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	users, err := as.userRepo.GetByEmails(ctx, nil, []string{email})
	if err != nil {
		return nil, "", "", fmt.Errorf("error retrieving user by email: %w", err)
	}
	if len(users) == 0 {
		return nil, "", "", apierr.New(http.StatusUnauthorized, "invalid_credentials", fmt.Errorf("invalid email or password"))
	}
	user := users[0]
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, "", "", apierr.New(http.StatusUnauthorized, "invalid_credentials", fmt.Errorf("invalid email or password"))
	}

	var accessToken, refreshToken string
	if err := as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Expired tokens from prior sessions are cleared on login so the
		// user_tokens table does not accumulate garbage rows.
		foundTokens, ftErr := as.userTokenRepo.GetByUserIDs(ctx, tx, []uuid.UUID{user.ID})
		if ftErr != nil {
			return fmt.Errorf("failed to check user tokens: %w", ftErr)
		}
		var staleIDs []uuid.UUID
		for _, t := range foundTokens {
			if t != nil && t.ExpiresAt.Before(time.Now()) {
				staleIDs = append(staleIDs, t.ID)
			}
		}
		if len(staleIDs) > 0 {
			if dtErr := as.userTokenRepo.DeleteByIDs(ctx, tx, staleIDs); dtErr != nil {
				return fmt.Errorf("failed to delete expired user tokens: %w", dtErr)
			}
		}
		var tErr error
		accessToken, refreshToken, tErr = as.issueTokens(ctx, tx, user)
		return tErr
	}); err != nil {
		return nil, "", "", err
	}

	as.log.Info("User logged in", "user_id", user.ID.String())
	return user, accessToken, refreshToken, nil
}

// RefreshUser rotates a refresh token. The token arrives in the request body
// so refresh still works after the access token has expired; when absent it
// falls back to the token resolved by the auth middleware.
func (as *authService) RefreshUser(ctx context.Context, refreshToken string) (string, string, error) {
	if refreshToken == "" {
		if rd := requestdata.GetRequestData(ctx); rd != nil {
			refreshToken = rd.RefreshToken
		}
	}
	if refreshToken == "" {
		return "", "", apierr.New(http.StatusUnauthorized, "unauthorized", fmt.Errorf("no refresh token provided"))
	}

	var accessToken, newRefreshToken string
	err := as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		foundTokens, ftErr := as.userTokenRepo.GetByRefreshTokens(ctx, tx, []string{refreshToken})
		if ftErr != nil {
			return fmt.Errorf("error fetching refresh token: %w", ftErr)
		}
		if len(foundTokens) == 0 {
			return apierr.New(http.StatusUnauthorized, "invalid_refresh_token", fmt.Errorf("refresh token not found"))
		}
		existingToken := foundTokens[0]
		if existingToken.ExpiresAt.Before(time.Now()) {
			_ = as.userTokenRepo.DeleteByIDs(ctx, tx, []uuid.UUID{existingToken.ID})
			return apierr.New(http.StatusUnauthorized, "refresh_token_expired", fmt.Errorf("refresh token expired"))
		}

		users, uErr := as.userRepo.GetByIDs(ctx, tx, []uuid.UUID{existingToken.UserID})
		if uErr != nil {
			return fmt.Errorf("failed to load user for refresh: %w", uErr)
		}
		if len(users) == 0 {
			return apierr.New(http.StatusUnauthorized, "invalid_refresh_token", fmt.Errorf("no user for refresh token"))
		}

		var tErr error
		accessToken, newRefreshToken, tErr = as.issueTokens(ctx, tx, users[0])
		if tErr != nil {
			return tErr
		}
		// Rotate: the old refresh token is one-shot.
		return as.userTokenRepo.DeleteByIDs(ctx, tx, []uuid.UUID{existingToken.ID})
	})
	if err != nil {
		return "", "", err
	}
	return accessToken, newRefreshToken, nil
}

func (as *authService) LogoutUser(ctx context.Context) error {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.TokenString == "" {
		return apierr.New(http.StatusUnauthorized, "unauthorized", fmt.Errorf("no access token in context"))
	}
	return as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		foundTokens, ftErr := as.userTokenRepo.GetByAccessTokens(ctx, tx, []string{rd.TokenString})
		if ftErr != nil {
			return fmt.Errorf("error finding user token: %w", ftErr)
		}
		if len(foundTokens) == 0 {
			return nil
		}
		return as.userTokenRepo.DeleteByIDs(ctx, tx, []uuid.UUID{foundTokens[0].ID})
	})
}

func (as *authService) GetCurrentUser(ctx context.Context) (*types.User, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apierr.New(http.StatusUnauthorized, "unauthorized", fmt.Errorf("no user in context"))
	}
	users, err := as.userRepo.GetByIDs(ctx, nil, []uuid.UUID{rd.UserID})
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if len(users) == 0 {
		return nil, apierr.New(http.StatusUnauthorized, "unauthorized", fmt.Errorf("user not found"))
	}
	return users[0], nil
}

func (as *authService) issueTokens(ctx context.Context, tx *gorm.DB, user *types.User) (string, string, error) {
	accessToken, err := as.generateAccessToken(user)
	if err != nil {
		return "", "", fmt.Errorf("generate access token: %w", err)
	}
	refreshToken := uuid.New().String()
	userToken := types.UserToken{
		ID:           uuid.New(),
		UserID:       user.ID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(as.refreshTTL),
	}
	if _, err := as.userTokenRepo.Create(ctx, tx, []*types.UserToken{&userToken}); err != nil {
		return "", "", fmt.Errorf("create user token: %w", err)
	}
	return accessToken, refreshToken, nil
}

func (as *authService) generateAccessToken(user *types.User) (string, error) {
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(as.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Email:   user.Email,
		IsAdmin: user.IsAdmin,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(as.jwtSecretKey))
}

func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	if tokenString == "" {
		return ctx, fmt.Errorf("empty token")
	}
	parsedToken, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(as.jwtSecretKey), nil
	})
	if err != nil {
		return ctx, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := parsedToken.Claims.(*JWTClaims)
	if !ok || !parsedToken.Valid {
		return ctx, fmt.Errorf("invalid or expired token")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return ctx, fmt.Errorf("invalid user id in token: %w", err)
	}

	var refreshToken string
	foundTokens, ftErr := as.userTokenRepo.GetByAccessTokens(ctx, nil, []string{tokenString})
	if ftErr != nil {
		return ctx, fmt.Errorf("failed to fetch user token: %w", ftErr)
	}
	if len(foundTokens) == 0 {
		// Token signature is valid but the server-side record is gone
		// (logged out elsewhere); treat as revoked.
		return ctx, fmt.Errorf("token revoked")
	}
	refreshToken = foundTokens[0].RefreshToken

	rd := &requestdata.RequestData{
		TokenString:  tokenString,
		RefreshToken: refreshToken,
		UserID:       userID,
		Email:        claims.Email,
		IsAdmin:      claims.IsAdmin,
	}
	return requestdata.WithRequestData(ctx, rd), nil
}

func (as *authService) GetAccessTTL() time.Duration {
	return as.accessTTL
}
