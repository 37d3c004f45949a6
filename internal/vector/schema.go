// Package vector defines the Weaviate schema used by the persistent index backend.
package vector

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// ChunkClass holds one object per indexed chunk; docKey groups the chunks
// of a single document.
const ChunkClass = "PaperChunk"

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

func chunkProperties() []*models.Property {
	return []*models.Property{
		{Name: "content", DataType: []string{"text"}},
		{Name: "docKey", DataType: []string{"string"}}, // exact match
		{Name: "position", DataType: []string{"int"}},
		{Name: "offset", DataType: []string{"int"}},
	}
}

// EnsureSchema creates the chunk class, or adds properties missing from an
// older deployment.
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.ClassExists(ctx, ChunkClass)
	if err != nil {
		return err
	}

	properties := chunkProperties()

	if !exists {
		class := &models.Class{
			Class:             ChunkClass,
			Description:       "A chunk of a paper or question context",
			Vectorizer:        "none",
			VectorIndexConfig: map[string]interface{}{"distance": "cosine"},
			Properties:        properties,
		}
		return client.CreateClass(ctx, class)
	}

	class, err := client.GetClass(ctx, ChunkClass)
	if err != nil {
		return err
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, ChunkClass, p); err != nil {
				return err
			}
		}
	}

	return nil
}
