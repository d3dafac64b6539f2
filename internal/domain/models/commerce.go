package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Customer, Product and Order are the tenant-scoped entities. Their
// cross references are kept consistent by the relations synchronizer.

type Customer struct {
	ID       primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	TenantID primitive.ObjectID   `bson:"tenant_id" json:"tenant_id"`
	Name     string               `bson:"name" json:"name"`
	OrderIDs []primitive.ObjectID `bson:"order_ids" json:"order_ids"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

type Product struct {
	ID       primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	TenantID primitive.ObjectID   `bson:"tenant_id" json:"tenant_id"`
	Name     string               `bson:"name" json:"name"`
	OrderIDs []primitive.ObjectID `bson:"order_ids" json:"order_ids"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

type Order struct {
	ID         primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	TenantID   primitive.ObjectID   `bson:"tenant_id" json:"tenant_id"`
	Number     string               `bson:"number" json:"number"` // unique per tenant
	CustomerID *primitive.ObjectID  `bson:"customer_id" json:"customer_id,omitempty"`
	ProductIDs []primitive.ObjectID `bson:"product_ids" json:"product_ids"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
