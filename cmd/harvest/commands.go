package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Sternrassler/harvester/pkg/descriptor"
	"github.com/Sternrassler/harvester/pkg/logging"
	"github.com/Sternrassler/harvester/pkg/shopify"
)

// lookupPageSize is the page size used to resolve product handles.
const lookupPageSize = 250

func (d *Dependencies) descriptorLogger() descriptor.Option {
	return descriptor.WithLogger(logging.Component(d.Logger, "descriptor"))
}

// Run executes the products command.
func (c *ProductsCmd) Run(deps *Dependencies) error {
	tags := c.Tags
	if len(tags) == 0 {
		tags = []string{""}
	}

	targets := make([]Target, 0, len(tags))
	for _, tag := range tags {
		desc, err := deps.Store.ProductsByTag(tag, c.PageSize, deps.descriptorLogger())
		if err != nil {
			return err
		}
		name := "products"
		if tag != "" {
			name = "products tag:" + tag
		}
		targets = append(targets, Target{Name: name, Descriptor: desc})
	}

	h := *deps.Harvester
	if c.Concurrency > 0 {
		h.Concurrency = c.Concurrency
	}
	return deps.finish(h.Harvest(deps.Ctx, targets))
}

// Run executes the orders command.
func (c *OrdersCmd) Run(deps *Dependencies) error {
	to := deps.Clock.Now()
	if c.To != "" {
		parsed, err := time.Parse(time.DateOnly, c.To)
		if err != nil {
			return fmt.Errorf("invalid --to %q: %w", c.To, err)
		}
		to = parsed
	}

	from := to.Add(-c.Lookback)
	if c.From != "" {
		parsed, err := time.Parse(time.DateOnly, c.From)
		if err != nil {
			return fmt.Errorf("invalid --from %q: %w", c.From, err)
		}
		from = parsed
	}

	desc, err := deps.Store.OrdersBetween(from, to, c.Source, c.PageSize, deps.descriptorLogger())
	if err != nil {
		return err
	}
	return deps.finish(deps.Harvester.Harvest(deps.Ctx, []Target{{Name: "orders", Descriptor: desc}}))
}

// Run executes the rest command.
func (c *RestCmd) Run(deps *Dependencies) error {
	query := url.Values{}
	for _, pair := range c.Query {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid --query %q: want key=value", pair)
		}
		query.Add(key, value)
	}

	opts := []descriptor.Option{deps.descriptorLogger()}
	if c.ObjectKey != "" {
		opts = append(opts, descriptor.WithObjectKey(c.ObjectKey))
	}
	desc, err := deps.Store.REST(c.Resource, query, opts...)
	if err != nil {
		return err
	}
	return deps.finish(deps.Harvester.Harvest(deps.Ctx, []Target{{Name: c.Resource, Descriptor: desc, PlainObjects: true}}))
}

// Run executes the set-metafield command.
func (c *SetMetafieldCmd) Run(deps *Dependencies) error {
	if c.CSV == "" {
		desc, err := deps.Store.UpdateProductMetafield(shopify.Metafield{
			ProductID: c.ProductID,
			Namespace: c.Namespace,
			Key:       c.Key,
			Value:     c.Value,
			ValueType: c.ValueType,
		}, deps.descriptorLogger())
		if err != nil {
			return err
		}
		return deps.finish(deps.Harvester.Harvest(deps.Ctx, []Target{{Name: "set-metafield", Descriptor: desc}}))
	}

	metafields, err := c.resolve(deps)
	if err != nil {
		return err
	}

	targets := make([]Target, 0, len(metafields))
	for _, m := range metafields {
		desc, err := deps.Store.UpdateProductMetafield(m, deps.descriptorLogger())
		if err != nil {
			return err
		}
		targets = append(targets, Target{Name: m.Namespace + "." + m.Key, Descriptor: desc})
	}
	return deps.finish(deps.Harvester.Chain(deps.Ctx, "set-metafield", targets))
}

// resolve reads the import file and looks up the product ID of every handle.
// Rows with unknown handles are reported on stderr and left out.
func (c *SetMetafieldCmd) resolve(deps *Dependencies) ([]shopify.Metafield, error) {
	f, err := os.Open(c.CSV)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := shopify.ParseMetafieldCSV(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", c.CSV, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s has no metafield values", c.CSV)
	}

	desc, err := deps.Store.ProductsByTag(c.Tag, lookupPageSize, deps.descriptorLogger())
	if err != nil {
		return nil, err
	}
	products, err := deps.Harvester.Harvest(deps.Ctx, []Target{{Name: "product lookup", Descriptor: desc}})
	if err != nil {
		return nil, fmt.Errorf("look up products: %w", err)
	}

	metafields, err := shopify.ResolveMetafields(rows, shopify.HandleIndex(products.Items), c.ValueType)
	if err != nil {
		fmt.Fprintf(deps.Stderr, "warning: %v\n", err)
	}
	if len(metafields) == 0 {
		return nil, errors.New("no metafield row matched a product handle")
	}
	return metafields, nil
}

// Run executes the config command.
func (c *ShowConfigCmd) Run(deps *Dependencies) error {
	_, err := fmt.Fprint(deps.Stdout, deps.Config.Redacted())
	return err
}
