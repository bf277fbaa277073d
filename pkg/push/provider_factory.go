package push

import (
	"context"

	"callsignal-backend/pkg/config"
	"callsignal-backend/pkg/logger"

	"go.uber.org/zap"
)

// ProviderType represents the type of push notification provider
type ProviderType string

const (
	ProviderTypeMock ProviderType = "mock"
	ProviderTypeFCM  ProviderType = "fcm"
	ProviderTypeAPNs ProviderType = "apns"
)

// NewProvider creates the push provider selected by configuration
func NewProvider(ctx context.Context, cfg config.PushConfig) (Provider, error) {
	providerType := ProviderType(cfg.Provider)

	logger.Info("Initializing push notification provider",
		zap.String("provider_type", string(providerType)))

	switch providerType {
	case ProviderTypeFCM:
		return NewFCMProvider(ctx, &FCMConfig{
			ProjectID:       cfg.FirebaseProjectID,
			CredentialsPath: cfg.FirebaseCredentials,
		})
	case ProviderTypeAPNs:
		return NewAPNsProvider(&APNsConfig{
			KeyPath:    cfg.APNsKeyPath,
			KeyID:      cfg.APNsKeyID,
			TeamID:     cfg.APNsTeamID,
			Topic:      cfg.APNsTopic,
			Production: cfg.APNsProduction,
		})
	case ProviderTypeMock:
		return &MockProvider{}, nil
	default:
		logger.Warn("Unknown push provider type, falling back to mock",
			zap.String("provider_type", string(providerType)))
		return &MockProvider{}, nil
	}
}
