package template

import (
	"context"

	"github.com/xraph/entitle/id"
)

type Store interface {
	CreateTemplate(ctx context.Context, t *Template) error
	GetTemplate(ctx context.Context, templateID id.TemplateID) (*Template, error)
	GetTemplateBySKU(ctx context.Context, sku string, appID string) (*Template, error)
	ListTemplates(ctx context.Context, appID string, opts ListOpts) ([]*Template, error)
	UpdateTemplate(ctx context.Context, t *Template) error
	DeleteTemplate(ctx context.Context, templateID id.TemplateID) error
}

type ListOpts struct {
	EnabledOnly bool
	Limit       int
	Offset      int
}
