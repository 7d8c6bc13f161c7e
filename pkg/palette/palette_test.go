package palette

import "testing"

func TestReservedCategoriesIgnorePaletteState(t *testing.T) {
	t.Parallel()

	a := NewAssigner()
	a.ColorFor("A")
	a.ColorFor("B")
	if got := a.ColorFor(CommonCategory); got != CommonColor {
		t.Fatalf("common=%q", got)
	}
	if got := a.ColorFor(ManualCategory); got != ManualColor {
		t.Fatalf("manual=%q", got)
	}
	if a.Assigned() != 2 {
		t.Fatalf("reserved categories consumed palette slots: %d", a.Assigned())
	}
	if got := a.ColorFor("C"); got != Colors[2] {
		t.Fatalf("third general category got %q want %q", got, Colors[2])
	}
}

func TestColorForIsStable(t *testing.T) {
	t.Parallel()

	a := NewAssigner()
	first := a.ColorFor("公園")
	a.ColorFor("駅")
	for i := 0; i < 5; i++ {
		if got := a.ColorFor("公園"); got != first {
			t.Fatalf("color changed on repeat lookup: %q -> %q", first, got)
		}
	}
	if a.Assigned() != 2 {
		t.Fatalf("assigned=%d want 2", a.Assigned())
	}
}

func TestPaletteWrapsAround(t *testing.T) {
	t.Parallel()

	a := NewAssigner()
	var first string
	for i := 0; i < len(Colors); i++ {
		c := a.ColorFor(string(rune('a' + i)))
		if i == 0 {
			first = c
		}
		if c != Colors[i] {
			t.Fatalf("category %d got %q want %q", i, c, Colors[i])
		}
	}
	if got := a.ColorFor("overflow"); got != first {
		t.Fatalf("category N+1 got %q want %q", got, first)
	}
}

func TestFreshAssignerStartsOver(t *testing.T) {
	t.Parallel()

	a := NewAssigner()
	a.ColorFor("x")
	a.ColorFor("y")
	b := NewAssigner()
	if got := b.ColorFor("y"); got != Colors[0] {
		t.Fatalf("new load should restart the palette, got %q", got)
	}
}

func TestHex(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"red":       "#D63E2A",
		"darkred":   "#A23336",
		"cadetblue": "#3E8E9E",
		"magenta":   DefaultHex,
		"":          DefaultHex,
	}
	for color, want := range cases {
		if got := Hex(color); got != want {
			t.Errorf("Hex(%q)=%q want %q", color, got, want)
		}
	}
	for _, c := range Colors {
		if Hex(c) == "" {
			t.Errorf("palette color %q has no code", c)
		}
	}
}
