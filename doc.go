// Package entitle provides a licensing and entitlement policy engine for
// multi-tenant content platforms.
//
// Entitle is designed as a library, not a service. For any account and
// content item it decides whether access is granted, under which usage
// limits and at what overage cost. It provides:
//
//   - Wildcard tag patterns matching licenses to content, with collection
//     inclusion
//   - A license lifecycle state machine with renewals, grace and suspension
//   - A deterministic, auditable override cascade
//     (license → coupon → template → default)
//   - Idempotent usage metering with pay-as-you-go overage
//   - Compare-and-set persistence on memory, SQLite, PostgreSQL and MongoDB
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/xraph/entitle"
//	    "github.com/xraph/entitle/store/memory"
//	)
//
//	eng := entitle.New(memory.New(),
//	    entitle.WithCatalog(catalog),
//	    entitle.WithGrace(period.FixedGrace(72*time.Hour)),
//	)
//
//	// Start the engine (begins background workers)
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop()
//
// # Core Concepts
//
// Templates define what a license grants and at what price:
//
//	tpl := &template.Template{
//	    AppID: "academy",
//	    SKU:   "all-access",
//	    Name:  "All Access",
//	    Terms: policy.Terms{
//	        Price:      override.Of(entitle.USD(5000)),
//	        Period:     override.Of("monthly"),
//	        TagPattern: override.Of("course*"),
//	        AutoRenew:  override.Of(true),
//	    },
//	    Enabled: true,
//	}
//
// Licenses connect accounts to templates. A checkout waits for payment:
//
//	lic, err := eng.Checkout(ctx, entitle.CheckoutRequest{
//	    AccountID:  acct.ID,
//	    TemplateID: tpl.ID,
//	})
//	due, _ := eng.AmountDue(ctx, lic.ID)
//	lic, err = eng.Confirm(ctx, lic.ID, paymentToken, due)
//
// Access checks combine licenses with the content catalog:
//
//	d, err := eng.CanAccess(ctx, entitle.AccessRequest{
//	    AccountID: acct.ID,
//	    Item:      item,
//	})
//	if d.Allowed {
//	    // Serve the item
//	}
//
// # Concurrency
//
// Every license mutation is a pure transition followed by a
// compare-and-set on the license version. Conflicts are retried with
// exponential backoff; retries are safe because payments are idempotent
// on their token, usage is deduplicated by event id and ticks are fenced
// on the period end.
//
// All monetary calculations use integer arithmetic. The Money type
// represents amounts in the smallest currency unit (cents for USD, pence
// for GBP, etc).
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	tpl_01h2xcejqtf2nbrexx3vqjhp41   // Template ID
//	lic_01h2xcejqtf2nbrexx3vqjhp41   // License ID
//	acct_01h455vb4pex5vsknk084sn02q  // Account ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package entitle
