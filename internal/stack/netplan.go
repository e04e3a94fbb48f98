package stack

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/pkg/errors"
)

// Layout is the computed addressing for the workshop network: one /24 public
// and one /24 private subnet per availability zone, carved in order from the
// VPC block (public first, then private, zone by zone).
type Layout struct {
	VpcCIDR      string
	PublicCIDRs  []string
	PrivateCIDRs []string
}

const subnetNewBits = 8 // /16 VPC becomes /24 subnets

// PlanLayout carves the VPC CIDR into per-zone subnet blocks.
func PlanLayout(vpcCIDR string, zones int) (Layout, error) {
	if zones < 1 || zones > 4 {
		return Layout{}, errors.Errorf("zone count must be within [1, 4], got %d", zones)
	}
	cidrs, err := subnetCIDRs(vpcCIDR, subnetNewBits, 2*zones)
	if err != nil {
		return Layout{}, err
	}
	layout := Layout{VpcCIDR: vpcCIDR}
	for i := 0; i < zones; i++ {
		layout.PublicCIDRs = append(layout.PublicCIDRs, cidrs[2*i])
		layout.PrivateCIDRs = append(layout.PrivateCIDRs, cidrs[2*i+1])
	}
	return layout, nil
}

// subnetCIDRs returns the first count subnets of the block, each narrowed by
// newBits. Only IPv4 blocks are supported.
func subnetCIDRs(blockCIDR string, newBits, count int) ([]string, error) {
	ip, block, err := net.ParseCIDR(blockCIDR)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot parse CIDR %q", blockCIDR)
	}
	v4 := ip.To4()
	if v4 == nil {
		return nil, errors.Errorf("%q is not an IPv4 block", blockCIDR)
	}
	ones, bits := block.Mask.Size()
	subnetOnes := ones + newBits
	if subnetOnes > 30 {
		return nil, errors.Errorf("cannot carve /%d subnets from %q", subnetOnes, blockCIDR)
	}
	if count > 1<<newBits {
		return nil, errors.Errorf("%q only holds %d /%d subnets, need %d",
			blockCIDR, 1<<newBits, subnetOnes, count)
	}

	base := binary.BigEndian.Uint32(block.IP.To4())
	subnetSize := uint32(1) << (bits - subnetOnes)
	cidrs := make([]string, 0, count)
	for i := 0; i < count; i++ {
		addr := make(net.IP, net.IPv4len)
		binary.BigEndian.PutUint32(addr, base+uint32(i)*subnetSize)
		cidrs = append(cidrs, fmt.Sprintf("%s/%d", addr, subnetOnes))
	}
	return cidrs, nil
}
