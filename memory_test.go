package loom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMRCacheHitReusesRegistration(t *testing.T) {
	var registerCalls int
	cache := NewMRCache[VerbsTag](4, func(base, length uintptr, access AccessFlags) (*MemoryRegion, error) {
		registerCalls++
		return NewMemoryRegion(make([]byte, length), access, Key(registerCalls))
	})

	mr1, err := cache.Acquire(0, 100, AccessLocalRead)
	require.NoError(t, err)
	mr2, err := cache.Acquire(0, 100, AccessLocalRead)
	require.NoError(t, err)

	assert.Same(t, mr1, mr2, "identical [base,length) under the same access must hit the cache")
	assert.Equal(t, 1, registerCalls)
	assert.Equal(t, 1, cache.Len())
}

func TestMRCacheEvictsOnlyZeroRefcountEntries(t *testing.T) {
	cache := NewMRCache[VerbsTag](1, func(base, length uintptr, access AccessFlags) (*MemoryRegion, error) {
		return NewMemoryRegion(make([]byte, length), access, Key(base))
	})

	_, err := cache.Acquire(0, 4096, AccessLocalRead)
	require.NoError(t, err)
	// Second acquire exceeds highWater=1; the first entry still holds a
	// reference from its own Acquire call, so eviction must not remove it.
	_, err = cache.Acquire(8192, 4096, AccessLocalRead)
	require.NoError(t, err)

	assert.Equal(t, 2, cache.Len(), "no zero-refcount entry exists yet, so nothing evicts")

	cache.Release(0, 4096, AccessLocalRead)
	assert.True(t, cache.EvictOne(), "releasing the first entry makes it evictable")
	assert.Equal(t, 1, cache.Len())
}

func TestAddressMarshalRoundtrip(t *testing.T) {
	cases := []Address{
		{Format: FormatInet, IP: [16]byte{10, 0, 0, 1}, Port: 4791},
		{Format: FormatInet6, IP: [16]byte{0xfe, 0x80}, Port: 1234},
		{Format: FormatInfiniBand, GID: [16]byte{1, 2, 3}, QPN: 0x1234, LID: 7},
		{Format: FormatEthernet, MAC: [6]byte{0xde, 0xad, 0xbe, 0xef, 0, 1}},
	}
	for _, want := range cases {
		data, err := want.MarshalBinary()
		require.NoError(t, err)
		var got Address
		require.NoError(t, got.UnmarshalBinary(data))
		assert.Equal(t, want, got)
	}
}

func TestAddressUnmarshalRejectsTruncatedInput(t *testing.T) {
	want := Address{Format: FormatInfiniBand, GID: [16]byte{1}, QPN: 9, LID: 3}
	data, err := want.MarshalBinary()
	require.NoError(t, err)

	var got Address
	err = got.UnmarshalBinary(data[:len(data)-1])
	require.Error(t, err)
	assert.Equal(t, FormatUnspecified, got.Format)
}

func TestAddressVectorHandleReuse(t *testing.T) {
	av := NewAddressVector(AVConfig{Organization: AVOrganizationMap, Capacity: 8})

	h1, err := av.Insert(Address{Format: FormatInet, Port: 1})
	require.NoError(t, err)
	_, err = av.Insert(Address{Format: FormatInet, Port: 2})
	require.NoError(t, err)

	require.NoError(t, av.Remove(h1))
	h3, err := av.Insert(Address{Format: FormatInet, Port: 3})
	require.NoError(t, err)
	assert.Equal(t, h1, h3, "removing a handle must make its slot available for reuse")

	_, err = av.Lookup(AVHandle(999))
	assert.Error(t, err)
}

func TestCapabilitySetBitflagLaws(t *testing.T) {
	a := CapMsg | CapTagged
	b := CapTagged | CapRMA

	assert.Equal(t, CapMsg|CapTagged|CapRMA, a.Union(b))
	assert.Equal(t, CapTagged, a.Intersect(b))
	assert.Equal(t, CapMsg, a.Difference(b))
	assert.True(t, a.Has(CapTagged))
	assert.False(t, a.Has(CapRMA))
	assert.True(t, a.HasAny(b))
}

func TestFabricVersionPacking(t *testing.T) {
	v := MakeFabricVersion(1, 20)
	assert.Equal(t, uint16(1), v.Major())
	assert.Equal(t, uint16(20), v.Minor())
	assert.Equal(t, "1.20", v.String())
}
