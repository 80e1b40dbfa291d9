package loom

import (
	"encoding/binary"
	"fmt"
)

// AddressFormat tags which variant an Address holds.
type AddressFormat int

const (
	FormatUnspecified AddressFormat = iota
	FormatInet
	FormatInet6
	FormatInfiniBand
	FormatEthernet
)

func (f AddressFormat) String() string {
	switch f {
	case FormatInet:
		return "inet"
	case FormatInet6:
		return "inet6"
	case FormatInfiniBand:
		return "ib"
	case FormatEthernet:
		return "ethernet"
	default:
		return "unspecified"
	}
}

// Address is a tagged union over the address variants libfabric's wire
// formats distinguish. Only the fields matching Format are meaningful.
type Address struct {
	Format AddressFormat

	// inet / inet6
	IP   [16]byte // first 4 bytes valid for inet, all 16 for inet6
	Port uint16

	// infiniband
	GID  [16]byte
	QPN  uint32
	LID  uint16

	// ethernet
	MAC [6]byte
}

// Family returns the address family for variants where it's meaningful.
func (a Address) Family() string {
	switch a.Format {
	case FormatInet:
		return "AF_INET"
	case FormatInet6:
		return "AF_INET6"
	default:
		return ""
	}
}

// MarshalBinary serializes the variant bitwise, matching libfabric's raw
// sockaddr/GID encodings so the bytes are directly wire-transferable.
func (a Address) MarshalBinary() ([]byte, error) {
	switch a.Format {
	case FormatUnspecified:
		return []byte{byte(FormatUnspecified)}, nil
	case FormatInet:
		buf := make([]byte, 1+4+2)
		buf[0] = byte(FormatInet)
		copy(buf[1:5], a.IP[:4])
		binary.BigEndian.PutUint16(buf[5:7], a.Port)
		return buf, nil
	case FormatInet6:
		buf := make([]byte, 1+16+2)
		buf[0] = byte(FormatInet6)
		copy(buf[1:17], a.IP[:])
		binary.BigEndian.PutUint16(buf[17:19], a.Port)
		return buf, nil
	case FormatInfiniBand:
		buf := make([]byte, 1+16+4+2)
		buf[0] = byte(FormatInfiniBand)
		copy(buf[1:17], a.GID[:])
		binary.BigEndian.PutUint32(buf[17:21], a.QPN)
		binary.BigEndian.PutUint16(buf[21:23], a.LID)
		return buf, nil
	case FormatEthernet:
		buf := make([]byte, 1+6)
		buf[0] = byte(FormatEthernet)
		copy(buf[1:7], a.MAC[:])
		return buf, nil
	default:
		return nil, NewError("Address.MarshalBinary", KindInvalidArgument, "unknown address format")
	}
}

// UnmarshalBinary parses {data} produced by MarshalBinary, rejecting
// truncated input by returning an unspecified Address and an error rather
// than panicking on a short slice.
func (a *Address) UnmarshalBinary(data []byte) error {
	if len(data) < 1 {
		*a = Address{Format: FormatUnspecified}
		return NewError("Address.UnmarshalBinary", KindInvalidArgument, "empty address buffer")
	}
	format := AddressFormat(data[0])
	body := data[1:]
	switch format {
	case FormatUnspecified:
		*a = Address{Format: FormatUnspecified}
		return nil
	case FormatInet:
		if len(body) < 6 {
			*a = Address{Format: FormatUnspecified}
			return NewError("Address.UnmarshalBinary", KindInvalidArgument, "truncated inet address")
		}
		var out Address
		out.Format = FormatInet
		copy(out.IP[:4], body[0:4])
		out.Port = binary.BigEndian.Uint16(body[4:6])
		*a = out
		return nil
	case FormatInet6:
		if len(body) < 18 {
			*a = Address{Format: FormatUnspecified}
			return NewError("Address.UnmarshalBinary", KindInvalidArgument, "truncated inet6 address")
		}
		var out Address
		out.Format = FormatInet6
		copy(out.IP[:], body[0:16])
		out.Port = binary.BigEndian.Uint16(body[16:18])
		*a = out
		return nil
	case FormatInfiniBand:
		if len(body) < 22 {
			*a = Address{Format: FormatUnspecified}
			return NewError("Address.UnmarshalBinary", KindInvalidArgument, "truncated ib address")
		}
		var out Address
		out.Format = FormatInfiniBand
		copy(out.GID[:], body[0:16])
		out.QPN = binary.BigEndian.Uint32(body[16:20])
		out.LID = binary.BigEndian.Uint16(body[20:22])
		*a = out
		return nil
	case FormatEthernet:
		if len(body) < 6 {
			*a = Address{Format: FormatUnspecified}
			return NewError("Address.UnmarshalBinary", KindInvalidArgument, "truncated ethernet address")
		}
		var out Address
		out.Format = FormatEthernet
		copy(out.MAC[:], body[0:6])
		*a = out
		return nil
	default:
		*a = Address{Format: FormatUnspecified}
		return NewError("Address.UnmarshalBinary", KindInvalidArgument, "unknown address format")
	}
}

func (a Address) String() string {
	switch a.Format {
	case FormatInet:
		return fmt.Sprintf("%d.%d.%d.%d:%d", a.IP[0], a.IP[1], a.IP[2], a.IP[3], a.Port)
	case FormatInet6:
		return fmt.Sprintf("[%x]:%d", a.IP[:], a.Port)
	case FormatInfiniBand:
		return fmt.Sprintf("ib:gid=%x,qpn=%d,lid=%d", a.GID[:], a.QPN, a.LID)
	case FormatEthernet:
		return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a.MAC[0], a.MAC[1], a.MAC[2], a.MAC[3], a.MAC[4], a.MAC[5])
	default:
		return "unspecified"
	}
}

// AVHandle is an opaque address-vector entry handle. AVHandleInvalid is the
// reserved "no such entry" sentinel (the all-ones u64, matching FabricAddr's
// unspecified convention).
type AVHandle uint64

const AVHandleInvalid AVHandle = ^AVHandle(0)

// AVOrganization hints at how the provider should organize its AV table.
type AVOrganization int

const (
	AVOrganizationMap AVOrganization = iota
	AVOrganizationTable
)

// AVConfig configures AddressVector creation.
type AVConfig struct {
	Organization AVOrganization
	Capacity     QueueSize
}

// AddressVector is a dense, handle-based peer directory.
type AddressVector struct {
	cfg     AVConfig
	entries []Address
	free    []AVHandle
}

// NewAddressVector creates an empty address vector under cfg.
func NewAddressVector(cfg AVConfig) *AddressVector {
	return &AddressVector{cfg: cfg}
}

// Insert adds addr and returns its stable handle.
func (av *AddressVector) Insert(addr Address) (AVHandle, error) {
	if len(av.free) > 0 {
		h := av.free[len(av.free)-1]
		av.free = av.free[:len(av.free)-1]
		av.entries[h] = addr
		return h, nil
	}
	h := AVHandle(len(av.entries))
	av.entries = append(av.entries, addr)
	return h, nil
}

// InsertBatch inserts addrs in order, returning the number successfully
// inserted and their handles in handlesOut (which must be at least
// len(addrs) long).
func (av *AddressVector) InsertBatch(addrs []Address, handlesOut []AVHandle) (int, error) {
	n := 0
	for i, addr := range addrs {
		h, err := av.Insert(addr)
		if err != nil {
			break
		}
		if i < len(handlesOut) {
			handlesOut[i] = h
		}
		n++
	}
	return n, nil
}

// Remove invalidates handle h, freeing its slot for reuse.
func (av *AddressVector) Remove(h AVHandle) error {
	if int(h) < 0 || int(h) >= len(av.entries) {
		return NewError("AddressVector.Remove", KindInvalidArgument, "handle out of range")
	}
	av.entries[h] = Address{}
	av.free = append(av.free, h)
	return nil
}

// Lookup returns the address registered under h.
func (av *AddressVector) Lookup(h AVHandle) (Address, error) {
	if int(h) < 0 || int(h) >= len(av.entries) {
		return Address{}, NewError("AddressVector.Lookup", KindInvalidArgument, "handle out of range")
	}
	return av.entries[h], nil
}

// AddressToString renders the address registered under h.
func (av *AddressVector) AddressToString(h AVHandle) (string, error) {
	addr, err := av.Lookup(h)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}
