package platform

import "time"

type Product struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	BodyHTML    string    `json:"body_html,omitempty"`
	Vendor      string    `json:"vendor,omitempty"`
	ProductType string    `json:"product_type,omitempty"`
	Handle      string    `json:"handle,omitempty"`
	Status      string    `json:"status,omitempty"`
	Tags        string    `json:"tags,omitempty"`
	Variants    []Variant `json:"variants,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type Variant struct {
	ID                int64  `json:"id"`
	Title             string `json:"title"`
	Price             string `json:"price"`
	SKU               string `json:"sku,omitempty"`
	InventoryQuantity int    `json:"inventory_quantity"`
}

type productsEnvelope struct {
	Products []Product `json:"products"`
}

type productEnvelope struct {
	Product Product `json:"product"`
}
