package main

import (
	"encoding/json"
	"log"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/cmdq-dev/cmdq/pkg/queue"
)

func main() {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: true,
		ExpandedStruct:            true,
		FieldNameTag:              "yaml",
	}

	schema := r.Reflect(&queue.PipelineSpec{})
	schema.Title = "cmdq Pipeline"
	schema.Description = "Schema for cmdq pipeline definition files."

	// Make the top-level fields optional; the job definition keeps its own
	// required list (name and run)
	schema.Required = nil

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		log.Fatalf("Error marshaling schema: %v", err)
	}

	if err := os.WriteFile("cmdq-pipeline.schema.json", data, 0644); err != nil {
		log.Fatalf("Error writing schema file: %v", err)
	}

	log.Printf("Successfully generated pipeline schema at cmdq-pipeline.schema.json")
}
