package confgen

import (
	"context"
	"errors"
	"testing"
)

func TestGenerateUsageScenariosCoversEveryProduct(t *testing.T) {
	products := gardenProducts(7)
	gen := &scriptedGen{responses: map[string]string{
		"usage scenarios": `{
			"p1": ["plant_wilting", "overwatered_plant"],
			"p2": ["repotting"],
			"p3": ["nutrient_deficiency"],
			"p4": ["pest_control"],
			"p5": ["soil_improvement"],
			"p6": ["seed_starting"],
			"p7": ["lawn_care"],
			"ghost": ["should_not_appear"]
		}`,
	}}

	g := newTestGenerator(newMemStore(), &memCatalog{products: products}, gen)

	scenarios := g.GenerateUsageScenarios(context.Background(), products)

	if len(scenarios) != len(products) {
		t.Fatalf("got %d entries, want %d", len(scenarios), len(products))
	}
	for _, p := range products {
		if len(scenarios[p.ID]) == 0 {
			t.Errorf("product %s has no scenarios", p.ID)
		}
	}
	if _, ok := scenarios["ghost"]; ok {
		t.Error("invented product id leaked into the scenario map")
	}
	if got := scenarios["p1"]; len(got) != 2 || got[0] != "plant_wilting" {
		t.Errorf("p1 scenarios = %v", got)
	}
}

func TestGenerateUsageScenariosBatchFallback(t *testing.T) {
	products := gardenProducts(3)
	gen := &scriptedGen{err: errors.New("model unavailable")}

	g := newTestGenerator(newMemStore(), &memCatalog{products: products}, gen)

	scenarios := g.GenerateUsageScenarios(context.Background(), products)

	if len(scenarios) != len(products) {
		t.Fatalf("got %d entries, want %d", len(scenarios), len(products))
	}
	for _, p := range products {
		got := scenarios[p.ID]
		if len(got) != 2 || got[0] != "general_general" || got[1] != "business_operations" {
			t.Errorf("product %s fallback = %v, want [general_general business_operations]", p.ID, got)
		}
	}
}

func TestGenerateUsageScenariosMissingEntryGetsFallback(t *testing.T) {
	products := gardenProducts(2)
	gen := &scriptedGen{responses: map[string]string{
		"usage scenarios": `{"p1": ["plant_wilting"]}`,
	}}

	g := newTestGenerator(newMemStore(), &memCatalog{products: products}, gen)

	scenarios := g.GenerateUsageScenarios(context.Background(), products)

	if got := scenarios["p1"]; len(got) != 1 || got[0] != "plant_wilting" {
		t.Errorf("p1 = %v", got)
	}
	if got := scenarios["p2"]; len(got) != 2 || got[1] != "business_operations" {
		t.Errorf("p2 = %v, want the fallback pair", got)
	}
}

func TestGenerateUsageScenariosFencedResponse(t *testing.T) {
	products := gardenProducts(1)
	gen := &scriptedGen{responses: map[string]string{
		"usage scenarios": "```json\n{\"p1\": [\"watering\"]}\n```",
	}}

	g := newTestGenerator(newMemStore(), &memCatalog{products: products}, gen)

	scenarios := g.GenerateUsageScenarios(context.Background(), products)
	if got := scenarios["p1"]; len(got) != 1 || got[0] != "watering" {
		t.Errorf("p1 = %v, want [watering]", got)
	}
}
