package provision

import (
	"context"

	"github.com/mattjoyce/storegate/internal/platform"
	"github.com/mattjoyce/storegate/internal/store"
	"github.com/mattjoyce/storegate/internal/voice"
)

//go:generate mockgen -destination=mocks/mock_provision.go -package=mocks github.com/mattjoyce/storegate/internal/provision Provider,Catalog

// Provider creates and removes voice resources.
type Provider interface {
	CreateAssistant(ctx context.Context, spec voice.AssistantSpec) (*voice.Assistant, error)
	DeleteAssistant(ctx context.Context, id string) error
	BuyPhoneNumber(ctx context.Context, assistantID, areaCode, idempotencyKey string) (*voice.PhoneNumber, error)
}

// Catalog supplies the products that seed an assistant.
type Catalog interface {
	ListRecentProducts(ctx context.Context, domain, token string, limit int) ([]platform.Product, error)
}

// Tenants is the slice of the store the orchestrator reads and writes.
type Tenants interface {
	GetTenantRecord(ctx context.Context, domain string) (*store.TenantRecord, error)
	UpsertTenantRecord(ctx context.Context, domain string, f store.TenantFields) error
	AccessToken(ctx context.Context, domain string) (string, error)
}
