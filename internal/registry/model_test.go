package registry

import "testing"

func TestLookupModelKnownID(t *testing.T) {
	spec, ok := LookupModel("stabilityai/sd-turbo")
	if !ok {
		t.Fatal("expected to find stabilityai/sd-turbo")
	}
	if spec.MinVRAMGB != 8 {
		t.Errorf("expected MinVRAMGB 8, got %d", spec.MinVRAMGB)
	}
}

func TestLookupModelIsCaseSensitive(t *testing.T) {
	if _, ok := LookupModel("StabilityAI/SD-Turbo"); ok {
		t.Error("expected case-mismatched id to miss the catalog")
	}
}

func TestLookupModelUnknownID(t *testing.T) {
	if _, ok := LookupModel("someone/not-in-the-catalog"); ok {
		t.Error("expected unknown model id to miss")
	}
}
