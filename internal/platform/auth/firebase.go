package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/RelayDigital/vrem-sub004/internal/platform/config"
)

// FirebaseVerifier verifies ID tokens and loads user records through the
// Firebase Admin SDK. It backs both TokenVerifier and UserGetter for the
// auth middleware.
type FirebaseVerifier struct {
	client  *firebaseauth.Client
	timeout time.Duration
}

var (
	_ TokenVerifier = (*FirebaseVerifier)(nil)
	_ UserGetter    = (*FirebaseVerifier)(nil)
)

// NewFirebaseVerifier initialises the Admin SDK for the configured project.
// Credentials fall back to application default credentials when no file is
// configured.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}

	return &FirebaseVerifier{client: client, timeout: defaultVerifyTimeout}, nil
}

// VerifyIDToken checks the token signature and claims against the project.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil || v.client == nil {
		return nil, errors.New("firebase verifier not initialised")
	}
	ctx, cancel := v.boundedContext(ctx)
	defer cancel()
	return v.client.VerifyIDToken(ctx, idToken)
}

// GetUser loads the user record for a UID.
func (v *FirebaseVerifier) GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
	if v == nil || v.client == nil {
		return nil, errors.New("firebase verifier not initialised")
	}
	ctx, cancel := v.boundedContext(ctx)
	defer cancel()
	return v.client.GetUser(ctx, uid)
}

func (v *FirebaseVerifier) boundedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if v == nil || v.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, v.timeout)
}
