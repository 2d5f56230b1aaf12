package netresolver

import (
	"fmt"

	"github.com/stephenvia/portfolio-deployer/src/prober"
)

const default_group_name = "default"

// NetworkContext is the read-only network triple every scheduled run
// attaches to. Nothing here is ever created by the deployer.
type NetworkContext struct {
	VpcID           string
	SubnetID        string
	SecurityGroupID string
}

var (
	findVPC           = prober.FindDefaultVPC
	findSubnet        = prober.FindSubnet
	findSecurityGroup = prober.FindSecurityGroup
)

// Resolve discovers the default VPC, a subnet inside it, and the default
// security group, in that order. Re-resolved on every run; no caching.
func Resolve(region string) (NetworkContext, error) {
	vpcID, err := findVPC(region)
	if err != nil {
		return NetworkContext{}, fmt.Errorf("resolve default VPC: %w", err)
	}
	subnetID, err := findSubnet(region, vpcID)
	if err != nil {
		return NetworkContext{}, fmt.Errorf("resolve subnet: %w", err)
	}
	groupID, err := findSecurityGroup(region, vpcID, default_group_name)
	if err != nil {
		return NetworkContext{}, fmt.Errorf("resolve security group: %w", err)
	}
	return NetworkContext{
		VpcID:           vpcID,
		SubnetID:        subnetID,
		SecurityGroupID: groupID,
	}, nil
}
