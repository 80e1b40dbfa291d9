package loom

import "testing"

func TestProviderTraitsNamesAreDistinctAndStable(t *testing.T) {
	tags := []ProviderTag{VerbsTag{}, EFATag{}, SlingshotTag{}, SHMTag{}, TCPTag{}, UCXTag{}}
	seen := map[string]bool{}
	for _, tag := range tags {
		name := tag.Traits().ProviderName()
		if name == "" {
			t.Fatalf("%T: empty provider name", tag)
		}
		if seen[name] {
			t.Fatalf("duplicate provider name %q", name)
		}
		seen[name] = true
	}
}

func TestEFAAndTCPUseStagedAtomics(t *testing.T) {
	for _, tag := range []ProviderTag{EFATag{}, TCPTag{}} {
		traits := tag.Traits()
		if traits.SupportsNativeAtomics {
			t.Fatalf("%s: expected no native atomic support", traits.Name)
		}
		if !traits.UsesStagedAtomics {
			t.Fatalf("%s: expected staged-atomic fallback", traits.Name)
		}
	}
}

func TestVerbsSlingshotSHMUCXSupportNativeAtomics(t *testing.T) {
	for _, tag := range []ProviderTag{VerbsTag{}, SlingshotTag{}, SHMTag{}, UCXTag{}} {
		traits := tag.Traits()
		if !traits.SupportsNativeAtomics {
			t.Fatalf("%s: expected native atomic support", traits.Name)
		}
		if traits.UsesStagedAtomics {
			t.Fatalf("%s: native-atomic providers must not also stage", traits.Name)
		}
	}
}

func TestTCPDoesNotSupportInject(t *testing.T) {
	traits := TCPTag{}.Traits()
	if traits.SupportsInject {
		t.Fatal("tcp: expected SupportsInject == false")
	}
	if traits.MaxInjectSize != 0 {
		t.Fatalf("tcp: expected MaxInjectSize == 0, got %d", traits.MaxInjectSize)
	}
}

func TestAlignDownAlignUpRoundtrip(t *testing.T) {
	traits := VerbsTag{}.Traits() // PageSizeBytes: 4096
	if got := traits.AlignDown(4097); got != 4096 {
		t.Fatalf("AlignDown(4097) = %d, want 4096", got)
	}
	if got := traits.AlignUp(4097); got != 8192 {
		t.Fatalf("AlignUp(4097) = %d, want 8192", got)
	}
	if got := traits.AlignDown(4096); got != 4096 {
		t.Fatalf("AlignDown(4096) = %d, want 4096 (already aligned)", got)
	}
	if got := traits.AlignUp(4096); got != 4096 {
		t.Fatalf("AlignUp(4096) = %d, want 4096 (already aligned)", got)
	}
}

func TestAlignedLengthCoversUnalignedSpan(t *testing.T) {
	traits := VerbsTag{}.Traits()
	got := traits.AlignedLength(100, 8000) // [100, 8100) spans two 4096-byte pages
	if got != 8192 {
		t.Fatalf("AlignedLength(100, 8000) = %d, want 8192", got)
	}
}

func TestComputeRemoteAddrByConvention(t *testing.T) {
	verbs := VerbsTag{}.Traits() // RequiresLocalKey: true -> absolute addressing
	if got := verbs.ComputeRemoteAddr(1000, 50); got != 1050 {
		t.Fatalf("verbs ComputeRemoteAddr = %d, want 1050 (base+offset)", got)
	}

	efa := EFATag{}.Traits() // RequiresLocalKey: false -> offset-relative addressing
	if got := efa.ComputeRemoteAddr(1000, 50); got != 50 {
		t.Fatalf("efa ComputeRemoteAddr = %d, want 50 (offset only)", got)
	}
}
