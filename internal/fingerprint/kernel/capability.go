package kernel

import (
	"fmt"
	"strings"
)

// Capability describes how a device can shape a dispatch.
type Capability int

const (
	// UniformOnly devices launch whole thread groups only. The grid is
	// rounded up and the kernel discards threads outside the image.
	UniformOnly Capability = iota
	// NonUniformCapable devices accept a thread grid of exactly width x
	// height; edge groups are trimmed by the hardware.
	NonUniformCapable
)

func (c Capability) String() string {
	switch c {
	case UniformOnly:
		return "uniform"
	case NonUniformCapable:
		return "nonuniform"
	default:
		return fmt.Sprintf("Capability(%d)", int(c))
	}
}

// ParseCapability maps user input to a capability.
func ParseCapability(name string) (Capability, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "uniform", "uniform-only":
		return UniformOnly, nil
	case "nonuniform", "non-uniform", "nonuniform-capable":
		return NonUniformCapable, nil
	default:
		return UniformOnly, fmt.Errorf("unknown dispatch capability %q", name)
	}
}
