package bridge

import (
	"context"
	"strconv"
	"strings"

	"github.com/mattjoyce/storegate/internal/platform"
)

// Function names the provider may call.
const (
	FunctionGetProduct     = "get_product"
	FunctionSearchProducts = "search_products"
)

// Function is one read-only catalog operation.
type Function func(ctx context.Context, domain, token string, args map[string]any) (any, error)

type argumentError struct{ msg string }

func (e *argumentError) Error() string { return e.msg }

func catalogFunctions(catalog Catalog, searchLimit int) map[string]Function {
	return map[string]Function{
		FunctionGetProduct: func(ctx context.Context, domain, token string, args map[string]any) (any, error) {
			id := stringArg(args, "product_id", "productId", "id")
			if id == "" {
				return nil, &argumentError{msg: "product_id is required"}
			}
			p, err := catalog.GetProduct(ctx, domain, token, id)
			if err != nil {
				return nil, err
			}
			return summarize(*p), nil
		},
		FunctionSearchProducts: func(ctx context.Context, domain, token string, args map[string]any) (any, error) {
			q := stringArg(args, "query", "keyword", "q")
			if q == "" {
				return nil, &argumentError{msg: "query is required"}
			}
			products, err := catalog.SearchProducts(ctx, domain, token, q, searchLimit)
			if err != nil {
				return nil, err
			}
			out := make([]productSummary, 0, len(products))
			for _, p := range products {
				out = append(out, summarize(p))
			}
			return map[string]any{"query": q, "count": len(out), "products": out}, nil
		},
	}
}

type productSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	ProductType string `json:"productType,omitempty"`
	Vendor      string `json:"vendor,omitempty"`
	Price       string `json:"price,omitempty"`
	Available   bool   `json:"available"`
}

func summarize(p platform.Product) productSummary {
	s := productSummary{
		ID:          strconv.FormatInt(p.ID, 10),
		Title:       p.Title,
		ProductType: p.ProductType,
		Vendor:      p.Vendor,
	}
	for i, v := range p.Variants {
		if i == 0 {
			s.Price = v.Price
		}
		if v.InventoryQuantity > 0 {
			s.Available = true
		}
	}
	return s
}

// stringArg returns the first non-empty argument among keys. Numbers are
// accepted for ids.
func stringArg(args map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := args[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
