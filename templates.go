package entitle

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/license"
	"github.com/xraph/entitle/policy"
	"github.com/xraph/entitle/template"
	"github.com/xraph/entitle/types"
)

// pushConcurrency bounds parallel updates of dependent licenses.
const pushConcurrency = 8

// ──────────────────────────────────────────────────
// Template Management
// ──────────────────────────────────────────────────

// CreateTemplate validates and stores a new template. SKUs are unique per
// app.
func (e *Engine) CreateTemplate(ctx context.Context, t *template.Template) error {
	if t.ID.IsNil() {
		t.ID = id.NewTemplateID()
	}
	t.Entity = types.NewEntity()

	if err := t.Validate(); err != nil {
		return err
	}
	e.warnTerms("template", t.ID, t.Effective(e.defaults))

	if _, err := e.store.GetTemplateBySKU(ctx, t.SKU, t.AppID); err == nil {
		return fmt.Errorf("%w: template sku %q", ErrAlreadyExists, t.SKU)
	} else if !errors.Is(err, ErrTemplateNotFound) {
		return err
	}

	if err := e.store.CreateTemplate(ctx, t); err != nil {
		return err
	}

	e.plugins.EmitTemplateCreated(ctx, t)
	return nil
}

// GetTemplate retrieves a template by ID.
func (e *Engine) GetTemplate(ctx context.Context, templateID id.TemplateID) (*template.Template, error) {
	return e.store.GetTemplate(ctx, templateID)
}

// GetTemplateBySKU retrieves a template by SKU.
func (e *Engine) GetTemplateBySKU(ctx context.Context, sku, appID string) (*template.Template, error) {
	return e.store.GetTemplateBySKU(ctx, sku, appID)
}

// ListTemplates lists the templates of an app.
func (e *Engine) ListTemplates(ctx context.Context, appID string, opts template.ListOpts) ([]*template.Template, error) {
	return e.store.ListTemplates(ctx, appID, opts)
}

// UpdateTemplate saves a template. Existing licenses keep the terms they
// were created with unless the template controls its instances, in which
// case their inherited tier is replaced with the new terms. It returns
// the number of licenses updated.
func (e *Engine) UpdateTemplate(ctx context.Context, t *template.Template) (int, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	e.warnTerms("template", t.ID, t.Effective(e.defaults))

	t.Touch()
	if err := e.store.UpdateTemplate(ctx, t); err != nil {
		return 0, err
	}
	return e.afterTemplateUpdate(ctx, t)
}

// DeleteTemplate removes a template. Licenses created from it keep their
// inherited terms.
func (e *Engine) DeleteTemplate(ctx context.Context, templateID id.TemplateID) error {
	return e.store.DeleteTemplate(ctx, templateID)
}

func (e *Engine) setTemplateOverride(ctx context.Context, templateID id.TemplateID, field policy.Field, value any) error {
	t, err := e.store.GetTemplate(ctx, templateID)
	if err != nil {
		return err
	}
	if err := t.Terms.Set(field, value); err != nil {
		return err
	}
	e.warnTerms("template", t.ID, t.Effective(e.defaults))

	t.Touch()
	if err := e.store.UpdateTemplate(ctx, t); err != nil {
		return err
	}
	_, err = e.afterTemplateUpdate(ctx, t)
	return err
}

func (e *Engine) afterTemplateUpdate(ctx context.Context, t *template.Template) (int, error) {
	pushed := 0
	if t.ControlInstances {
		var err error
		pushed, err = e.pushInherited(ctx, t)
		if err != nil {
			return pushed, err
		}
	}
	e.plugins.EmitTemplateUpdated(ctx, t, pushed)
	return pushed, nil
}

// pushInherited replaces the inherited tier of every live license created
// from t. Explicit overrides and coupon terms are left alone.
func (e *Engine) pushInherited(ctx context.Context, t *template.Template) (int, error) {
	deps, err := e.store.ListLicensesByTemplate(ctx, t.ID)
	if err != nil {
		return 0, err
	}

	var (
		g      errgroup.Group
		counts = make([]bool, len(deps))
	)
	g.SetLimit(pushConcurrency)

	for i, dep := range deps {
		if dep.State.IsTerminal() {
			continue
		}
		g.Go(func() error {
			_, changed, err := e.mutateLicense(ctx, dep.ID, func(l *license.License, _ policy.Effective) (bool, error) {
				if l.State.IsTerminal() {
					return false, nil
				}
				l.Inherited = t.Terms
				l.AddHistory(e.now(), "inherited", "template "+t.ID.String()+" pushed new terms")
				return true, nil
			})
			if err != nil {
				return fmt.Errorf("push terms to license %s: %w", dep.ID, err)
			}
			counts[i] = changed
			return nil
		})
	}

	err = g.Wait()
	pushed := 0
	for _, c := range counts {
		if c {
			pushed++
		}
	}
	if err != nil {
		return pushed, err
	}

	e.logger.Info("pushed template terms",
		"template_id", t.ID.String(),
		"licenses", pushed,
	)
	return pushed, nil
}

// warnTerms logs configuration warnings met while resolving terms.
func (e *Engine) warnTerms(kind string, entityID id.ID, eff policy.Effective) {
	for _, w := range eff.Warnings {
		e.logger.Warn(kind+" terms misconfigured",
			"id", entityID.String(),
			"error", w,
		)
	}
}
