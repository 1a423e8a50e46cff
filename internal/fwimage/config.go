package fwimage

// Config describes the machine a firmware image should advertise. It is the
// YAML format consumed by cmd/mkfirmware; all addresses are physical.
type Config struct {
	MemoryBase uint64 `yaml:"memoryBase"`
	MemorySize uint64 `yaml:"memorySize"`

	// TablesBase is where the XSDT and the tables it points at are laid
	// out. RSDPBase holds the root pointer itself.
	TablesBase uint64 `yaml:"tablesBase,omitempty"`
	RSDPBase   uint64 `yaml:"rsdpBase,omitempty"`

	LAPICBase uint32 `yaml:"lapicBase,omitempty"`

	CPUs []CPUConfig `yaml:"cpus"`

	// Domains adds a SRAT describing NUMA memory affinity. With no domains
	// and no per-CPU domain assignments, no SRAT is emitted.
	Domains []DomainConfig `yaml:"domains,omitempty"`

	// MemoryMap overrides the EFI memory map. Empty means a single
	// conventional-memory descriptor covering all of RAM.
	MemoryMap []MapEntry `yaml:"memoryMap,omitempty"`

	OEM OEMInfo `yaml:"-"`
}

// CPUConfig describes one logical processor.
type CPUConfig struct {
	APICID   uint32  `yaml:"apicId"`
	X2APIC   bool    `yaml:"x2apic,omitempty"`
	Disabled bool    `yaml:"disabled,omitempty"`
	Domain   *uint32 `yaml:"domain,omitempty"`
}

// DomainConfig assigns memory ranges to a NUMA domain.
type DomainConfig struct {
	ID     uint32        `yaml:"id"`
	Ranges []RangeConfig `yaml:"ranges"`
}

// RangeConfig is a base+size physical memory range.
type RangeConfig struct {
	Base uint64 `yaml:"base"`
	Size uint64 `yaml:"size"`
}

// MapEntry is one EFI memory-map descriptor.
type MapEntry struct {
	Type  uint32 `yaml:"type"`
	Base  uint64 `yaml:"base"`
	Pages uint64 `yaml:"pages"`
}

// OEMInfo mirrors the ACPI table header OEM fields.
type OEMInfo struct {
	OEMID           [6]byte
	OEMTableID      [8]byte
	OEMRevision     uint32
	CreatorID       [4]byte
	CreatorRevision uint32
}

// DefaultOEMInfo returns the table header metadata stamped into generated
// images.
func DefaultOEMInfo() OEMInfo {
	return OEMInfo{
		OEMID:           [6]byte{'S', 'P', 'A', 'R', 'S', 'E'},
		OEMTableID:      [8]byte{'S', 'P', 'A', 'R', 'S', 'D', 'E', 'F'},
		OEMRevision:     1,
		CreatorID:       [4]byte{'S', 'P', 'R', 'S'},
		CreatorRevision: 1,
	}
}

func (c *Config) normalize() {
	if c.MemorySize == 0 {
		c.MemorySize = 2 << 20
	}
	if c.TablesBase == 0 {
		c.TablesBase = c.MemoryBase + c.MemorySize - 0x10000
	}
	if c.RSDPBase == 0 {
		c.RSDPBase = c.MemoryBase + 0x1000
	}
	if c.LAPICBase == 0 {
		c.LAPICBase = 0xFEE00000
	}
	if c.OEM == (OEMInfo{}) {
		c.OEM = DefaultOEMInfo()
	}
}

// hasSRAT reports whether the config carries any affinity information.
func (c *Config) hasSRAT() bool {
	if len(c.Domains) > 0 {
		return true
	}
	for _, cpu := range c.CPUs {
		if cpu.Domain != nil {
			return true
		}
	}
	return false
}
