package menu

import (
	"strings"
	"testing"
)

func sampleMenu() []Product {
	return []Product{
		{ID: 1, Name: "Margherita Pizza", Price: 150, Category: "Pizzalar", Description: "Domates, mozzarella", Allergens: []string{"gluten", "süt"}},
		{ID: 2, Name: "Sucuklu Pizza", Price: 180, Category: "Pizzalar"},
		{ID: 3, Name: "Ayran", Price: 25, Category: "İçecekler"},
		{ID: 4, Name: "Mercimek Çorbası", Price: 60},
	}
}

func TestBuildContext_GroupsByCategory(t *testing.T) {
	t.Parallel()

	got := BuildContext(sampleMenu())

	for _, want := range []string{
		"Pizzalar:",
		"İçecekler:",
		"Diğer:",
		"ID:1 | Margherita Pizza | 150.00₺ | Domates, mozzarella [Alerjen: gluten, süt]",
		"ID:3 | Ayran | 25.00₺",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("context missing %q:\n%s", want, got)
		}
	}

	// Category order follows first appearance.
	if strings.Index(got, "Pizzalar:") > strings.Index(got, "İçecekler:") {
		t.Error("category order not preserved")
	}
}

func TestBuildContext_Empty(t *testing.T) {
	t.Parallel()

	if got := BuildContext(nil); got != "" {
		t.Errorf("empty menu should render empty context, got %q", got)
	}
}

func TestResolveProduct_Exact(t *testing.T) {
	t.Parallel()

	p, ok := ResolveProduct(sampleMenu(), "ayran")
	if !ok || p.ID != 3 {
		t.Fatalf("got %+v ok=%v", p, ok)
	}
}

func TestResolveProduct_Substring(t *testing.T) {
	t.Parallel()

	p, ok := ResolveProduct(sampleMenu(), "margherita")
	if !ok || p.ID != 1 {
		t.Fatalf("got %+v ok=%v", p, ok)
	}
}

func TestResolveProduct_FuzzyTranscriptionNoise(t *testing.T) {
	t.Parallel()

	// A transcriber will not spell "Margherita Pizza" reliably.
	p, ok := ResolveProduct(sampleMenu(), "margarita pizza")
	if !ok || p.ID != 1 {
		t.Fatalf("got %+v ok=%v", p, ok)
	}
}

func TestResolveProduct_NoMatch(t *testing.T) {
	t.Parallel()

	if _, ok := ResolveProduct(sampleMenu(), "sushi tabağı"); ok {
		t.Error("unrelated name should not resolve")
	}
	if _, ok := ResolveProduct(sampleMenu(), ""); ok {
		t.Error("empty name should not resolve")
	}
}
